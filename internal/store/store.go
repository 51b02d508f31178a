package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dianvu/MayaProject/internal/domain"
)

// DataError indicates that requested input data is missing or lies outside
// the data horizon the store can serve.
type DataError struct {
	Op     string
	UserID string
	Year   int
	Month  time.Month
	Reason string
}

func (e *DataError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("%s: user %s, %d-%02d: %s", e.Op, e.UserID, e.Year, int(e.Month), e.Reason)
	}
	return fmt.Sprintf("%s: %d-%02d: %s", e.Op, e.Year, int(e.Month), e.Reason)
}

// UserAggregate holds the per-user monthly aggregates the cohort selector
// filters on. Amounts are absolute values.
type UserAggregate struct {
	UserID           string
	TransactionCount int
	TotalSpend       float64
	TotalCashIn      float64
}

// TransactionStore is the queryable store of canonical transaction records
// owned by the ingestion collaborator.
type TransactionStore interface {
	// QueryMonth returns all of a user's records within the calendar month,
	// ordered by timestamp. An empty result is valid.
	QueryMonth(ctx context.Context, userID string, year int, month time.Month) ([]domain.TransactionRecord, error)

	// MonthlyAggregates returns per-user aggregates over the calendar month
	// for the whole population, in no particular order.
	MonthlyAggregates(ctx context.Context, year int, month time.Month) ([]UserAggregate, error)

	// Horizon returns the earliest and latest record timestamps held by the
	// store. ok is false when the store is empty.
	Horizon(ctx context.Context) (earliest, latest time.Time, ok bool, err error)

	Close() error
}

// MonthWindow returns the half-open interval [start, end) covering the given
// calendar month. time.Date normalizes month+1 overflow, so variable month
// lengths and leap years come out right.
func MonthWindow(year int, month time.Month) (start, end time.Time) {
	start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}
