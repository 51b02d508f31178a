package bigquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dianvu/MayaProject/internal/domain"
	"github.com/dianvu/MayaProject/internal/store"
)

// Store is a TransactionStore backed by a BigQuery transactions table. It
// holds a shared client so each query does not open a new connection.
type Store struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// Config locates the transactions table.
type Config struct {
	ProjectID string
	Dataset   string
	Table     string
}

// New creates a BigQuery-backed store. Application Default Credentials are
// assumed to be configured.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("bigquery.New: empty project ID")
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery.New: creating client: %w", err)
	}
	if cfg.Dataset == "" {
		cfg.Dataset = "finance"
	}
	if cfg.Table == "" {
		cfg.Table = "transactions"
	}
	return &Store{client: client, dataset: cfg.Dataset, table: cfg.Table}, nil
}

type transactionRow struct {
	UserID      string    `bigquery:"user_id"`
	Timestamp   time.Time `bigquery:"ts"`
	Amount      float64   `bigquery:"amount"`
	Category    string    `bigquery:"category"`
	Direction   string    `bigquery:"direction"`
	Merchant    string    `bigquery:"merchant"`
	SegmentTags []string  `bigquery:"segment_tags"`
}

func (s *Store) QueryMonth(ctx context.Context, userID string, year int, month time.Month) ([]domain.TransactionRecord, error) {
	start, end := store.MonthWindow(year, month)

	q := s.client.Query(fmt.Sprintf(`
		SELECT user_id, ts, amount, category, direction, merchant, segment_tags
		FROM %s.%s
		WHERE user_id = @user_id AND ts >= @start AND ts < @end
		ORDER BY ts
	`, s.dataset, s.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "start", Value: start},
		{Name: "end", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery.QueryMonth: running query: %w", err)
	}

	var out []domain.TransactionRecord
	for {
		var row transactionRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery.QueryMonth: reading row: %w", err)
		}
		out = append(out, domain.TransactionRecord{
			UserID:      row.UserID,
			Timestamp:   row.Timestamp,
			Amount:      row.Amount,
			Category:    row.Category,
			Direction:   domain.Direction(row.Direction),
			Merchant:    row.Merchant,
			SegmentTags: row.SegmentTags,
		})
	}
	return out, nil
}

func (s *Store) MonthlyAggregates(ctx context.Context, year int, month time.Month) ([]store.UserAggregate, error) {
	start, end := store.MonthWindow(year, month)

	q := s.client.Query(fmt.Sprintf(`
		SELECT
			user_id,
			COUNT(*) AS transaction_count,
			COALESCE(SUM(IF(direction = @spend, ABS(amount), 0)), 0) AS total_spend,
			COALESCE(SUM(IF(direction = @cash_in, ABS(amount), 0)), 0) AS total_cash_in
		FROM %s.%s
		WHERE ts >= @start AND ts < @end
		GROUP BY user_id
	`, s.dataset, s.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "spend", Value: string(domain.DirectionCashOut)},
		{Name: "cash_in", Value: string(domain.DirectionCashIn)},
		{Name: "start", Value: start},
		{Name: "end", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery.MonthlyAggregates: running query: %w", err)
	}

	var out []store.UserAggregate
	for {
		var row struct {
			UserID           string  `bigquery:"user_id"`
			TransactionCount int64   `bigquery:"transaction_count"`
			TotalSpend       float64 `bigquery:"total_spend"`
			TotalCashIn      float64 `bigquery:"total_cash_in"`
		}
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery.MonthlyAggregates: reading row: %w", err)
		}
		out = append(out, store.UserAggregate{
			UserID:           row.UserID,
			TransactionCount: int(row.TransactionCount),
			TotalSpend:       row.TotalSpend,
			TotalCashIn:      row.TotalCashIn,
		})
	}
	return out, nil
}

func (s *Store) Horizon(ctx context.Context) (time.Time, time.Time, bool, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT MIN(ts) AS earliest, MAX(ts) AS latest FROM %s.%s
	`, s.dataset, s.table))

	it, err := q.Read(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("bigquery.Horizon: running query: %w", err)
	}

	var row struct {
		Earliest bigquery.NullTimestamp `bigquery:"earliest"`
		Latest   bigquery.NullTimestamp `bigquery:"latest"`
	}
	if err := it.Next(&row); err != nil {
		if errors.Is(err, iterator.Done) {
			return time.Time{}, time.Time{}, false, nil
		}
		return time.Time{}, time.Time{}, false, fmt.Errorf("bigquery.Horizon: reading row: %w", err)
	}
	if !row.Earliest.Valid || !row.Latest.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return row.Earliest.Timestamp, row.Latest.Timestamp, true, nil
}

func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ store.TransactionStore = (*Store)(nil)
