package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dianvu/MayaProject/internal/domain"
	"github.com/dianvu/MayaProject/internal/store"
)

// transactionRow is the persisted shape of a canonical transaction record.
// SegmentTags are stored comma-joined; the ingestion side writes them the
// same way.
type transactionRow struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      string    `gorm:"index;index:idx_user_period,priority:1"`
	Timestamp   time.Time `gorm:"index"`
	Amount      float64
	Category    string
	Direction   string
	Merchant    string
	SegmentTags string
	Year        int `gorm:"index:idx_user_period,priority:2"`
	Month       int `gorm:"index:idx_user_period,priority:3"`
}

func (transactionRow) TableName() string { return "transactions" }

// Store is a TransactionStore backed by a SQLite database via gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at dbPath and migrates the schema.
func Open(dbPath string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: connecting to %q: %w", dbPath, err)
	}
	if err := db.AutoMigrate(&transactionRow{}); err != nil {
		return nil, fmt.Errorf("sqlite.Open: migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert validates and writes records. It exists for ingestion tooling and
// test fixtures; the report pipeline itself only reads.
func (s *Store) Insert(ctx context.Context, records ...domain.TransactionRecord) error {
	rows := make([]transactionRow, 0, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("sqlite.Insert: %w", err)
		}
		rows = append(rows, transactionRow{
			UserID:      r.UserID,
			Timestamp:   r.Timestamp.UTC(),
			Amount:      r.Amount,
			Category:    r.Category,
			Direction:   string(r.Direction),
			Merchant:    r.Merchant,
			SegmentTags: strings.Join(r.SegmentTags, ","),
			Year:        r.Timestamp.UTC().Year(),
			Month:       int(r.Timestamp.UTC().Month()),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("sqlite.Insert: writing %d rows: %w", len(rows), err)
	}
	return nil
}

func (s *Store) QueryMonth(ctx context.Context, userID string, year int, month time.Month) ([]domain.TransactionRecord, error) {
	var rows []transactionRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND year = ? AND month = ?", userID, year, int(month)).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite.QueryMonth: %w", err)
	}

	out := make([]domain.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToRecord(row))
	}
	return out, nil
}

func (s *Store) MonthlyAggregates(ctx context.Context, year int, month time.Month) ([]store.UserAggregate, error) {
	type aggRow struct {
		UserID           string
		TransactionCount int
		TotalSpend       float64
		TotalCashIn      float64
	}
	var rows []aggRow
	err := s.db.WithContext(ctx).
		Model(&transactionRow{}).
		Select(
			"user_id, COUNT(*) AS transaction_count, "+
				"COALESCE(SUM(CASE WHEN direction = ? THEN ABS(amount) ELSE 0 END), 0) AS total_spend, "+
				"COALESCE(SUM(CASE WHEN direction = ? THEN ABS(amount) ELSE 0 END), 0) AS total_cash_in",
			string(domain.DirectionCashOut), string(domain.DirectionCashIn)).
		Where("year = ? AND month = ?", year, int(month)).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite.MonthlyAggregates: %w", err)
	}

	out := make([]store.UserAggregate, 0, len(rows))
	for _, row := range rows {
		out = append(out, store.UserAggregate{
			UserID:           row.UserID,
			TransactionCount: row.TransactionCount,
			TotalSpend:       row.TotalSpend,
			TotalCashIn:      row.TotalCashIn,
		})
	}
	return out, nil
}

func (s *Store) Horizon(ctx context.Context) (time.Time, time.Time, bool, error) {
	type horizonRow struct {
		Earliest *time.Time
		Latest   *time.Time
	}
	var row horizonRow
	err := s.db.WithContext(ctx).
		Model(&transactionRow{}).
		Select("MIN(timestamp) AS earliest, MAX(timestamp) AS latest").
		Scan(&row).Error
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("sqlite.Horizon: %w", err)
	}
	if row.Earliest == nil || row.Latest == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	return *row.Earliest, *row.Latest, true, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite.Close: %w", err)
	}
	return sqlDB.Close()
}

func rowToRecord(row transactionRow) domain.TransactionRecord {
	var tags []string
	if row.SegmentTags != "" {
		tags = strings.Split(row.SegmentTags, ",")
	}
	return domain.TransactionRecord{
		UserID:      row.UserID,
		Timestamp:   row.Timestamp,
		Amount:      row.Amount,
		Category:    row.Category,
		Direction:   domain.Direction(row.Direction),
		Merchant:    row.Merchant,
		SegmentTags: tags,
	}
}

var _ store.TransactionStore = (*Store)(nil)
