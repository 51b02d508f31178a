package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dianvu/MayaProject/internal/domain"
)

// Memory is an in-memory TransactionStore. It is safe for concurrent use and
// is the backend of choice for tests and local demos.
type Memory struct {
	mu      sync.RWMutex
	records []domain.TransactionRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Add validates and appends records to the store.
func (m *Memory) Add(records ...domain.TransactionRecord) error {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *Memory) QueryMonth(ctx context.Context, userID string, year int, month time.Month) ([]domain.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, end := MonthWindow(year, month)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.TransactionRecord
	for _, r := range m.records {
		if r.UserID != userID {
			continue
		}
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) MonthlyAggregates(ctx context.Context, year int, month time.Month) ([]UserAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, end := MonthWindow(year, month)

	m.mu.RLock()
	defer m.mu.RUnlock()

	byUser := make(map[string]*UserAggregate)
	for _, r := range m.records {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		agg, ok := byUser[r.UserID]
		if !ok {
			agg = &UserAggregate{UserID: r.UserID}
			byUser[r.UserID] = agg
		}
		agg.TransactionCount++
		if r.IsSpend() {
			agg.TotalSpend += r.Magnitude()
		} else {
			agg.TotalCashIn += r.Magnitude()
		}
	}

	out := make([]UserAggregate, 0, len(byUser))
	for _, agg := range byUser {
		out = append(out, *agg)
	}
	return out, nil
}

func (m *Memory) Horizon(ctx context.Context) (time.Time, time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.records) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	earliest, latest := m.records[0].Timestamp, m.records[0].Timestamp
	for _, r := range m.records[1:] {
		if r.Timestamp.Before(earliest) {
			earliest = r.Timestamp
		}
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return earliest, latest, true, nil
}

func (m *Memory) Close() error { return nil }

var _ TransactionStore = (*Memory)(nil)
