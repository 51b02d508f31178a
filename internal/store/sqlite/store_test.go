package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dianvu/MayaProject/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tx.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func tx(userID string, day int, amount float64, category string, dir domain.Direction) domain.TransactionRecord {
	return domain.TransactionRecord{
		UserID:    userID,
		Timestamp: time.Date(2025, time.April, day, 12, 0, 0, 0, time.UTC),
		Amount:    amount,
		Category:  category,
		Direction: dir,
		Merchant:  "card",
	}
}

func TestQueryMonthScopesToUserAndPeriod(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Insert(ctx,
		tx("u1", 3, -50, "groceries", domain.DirectionCashOut),
		tx("u1", 10, 800, "salary", domain.DirectionCashIn),
		tx("u2", 5, -25, "transport", domain.DirectionCashOut),
		domain.TransactionRecord{
			UserID:    "u1",
			Timestamp: time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
			Amount:    -10, Category: "groceries", Direction: domain.DirectionCashOut,
		},
	)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.QueryMonth(ctx, "u1", 2025, time.April)
	if err != nil {
		t.Fatalf("QueryMonth: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Error("records should be ordered by timestamp")
	}
	for _, r := range got {
		if r.UserID != "u1" || r.Timestamp.Month() != time.April {
			t.Errorf("out-of-scope record: %+v", r)
		}
	}
}

func TestInsertRejectsInvalidRecord(t *testing.T) {
	s := openTestStore(t)
	err := s.Insert(context.Background(), domain.TransactionRecord{
		UserID:    "u1",
		Timestamp: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		Amount:    0,
		Direction: domain.DirectionCashOut,
	})
	if err == nil {
		t.Fatal("expected validation error for zero amount")
	}
}

func TestMonthlyAggregates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Insert(ctx,
		tx("u1", 3, -100, "groceries", domain.DirectionCashOut),
		tx("u1", 4, -200, "transport", domain.DirectionCashOut),
		tx("u1", 5, 1000, "salary", domain.DirectionCashIn),
		tx("u2", 6, -40, "groceries", domain.DirectionCashOut),
	)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	aggs, err := s.MonthlyAggregates(ctx, 2025, time.April)
	if err != nil {
		t.Fatalf("MonthlyAggregates: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("aggregates = %d, want 2", len(aggs))
	}
	byUser := map[string]int{}
	for i, a := range aggs {
		byUser[a.UserID] = i
	}
	u1 := aggs[byUser["u1"]]
	if u1.TransactionCount != 3 || u1.TotalSpend != 300 || u1.TotalCashIn != 1000 {
		t.Errorf("u1 aggregate = %+v", u1)
	}
	u2 := aggs[byUser["u2"]]
	if u2.TransactionCount != 1 || u2.TotalSpend != 40 || u2.TotalCashIn != 0 {
		t.Errorf("u2 aggregate = %+v", u2)
	}
}

func TestHorizon(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, ok, err := s.Horizon(ctx)
	if err != nil {
		t.Fatalf("Horizon: %v", err)
	}
	if ok {
		t.Fatal("empty store should report no horizon")
	}

	if err := s.Insert(ctx,
		tx("u1", 2, -10, "groceries", domain.DirectionCashOut),
		tx("u1", 20, -10, "groceries", domain.DirectionCashOut),
	); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	earliest, latest, ok, err := s.Horizon(ctx)
	if err != nil {
		t.Fatalf("Horizon: %v", err)
	}
	if !ok {
		t.Fatal("expected a horizon")
	}
	if earliest.UTC().Day() != 2 || latest.UTC().Day() != 20 {
		t.Errorf("horizon = %s .. %s", earliest, latest)
	}
}

func TestSegmentTagsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := tx("u1", 7, -15, "groceries", domain.DirectionCashOut)
	rec.SegmentTags = []string{"STUDENT", "URBAN"}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.QueryMonth(ctx, "u1", 2025, time.April)
	if err != nil {
		t.Fatalf("QueryMonth: %v", err)
	}
	if len(got) != 1 || len(got[0].SegmentTags) != 2 || got[0].SegmentTags[0] != "STUDENT" {
		t.Errorf("tags = %+v", got)
	}
}
