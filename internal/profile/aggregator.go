package profile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dianvu/MayaProject/internal/store"
)

// Aggregator builds monthly profiles from the transaction store.
type Aggregator struct {
	store store.TransactionStore
}

// NewAggregator creates an Aggregator over the given store.
func NewAggregator(s store.TransactionStore) *Aggregator {
	return &Aggregator{store: s}
}

// BuildProfile aggregates one user's transactions for the calendar month into
// a MonthlyProfile. A month with no transactions yields a zero profile, not
// an error. The fold is deterministic: identical input produces an identical
// profile.
func (a *Aggregator) BuildProfile(ctx context.Context, userID string, year int, month time.Month) (*MonthlyProfile, error) {
	if month < time.January || month > time.December {
		return nil, &store.DataError{Op: "BuildProfile", UserID: userID, Year: year, Month: month, Reason: "month out of range"}
	}

	records, err := a.store.QueryMonth(ctx, userID, year, month)
	if err != nil {
		return nil, fmt.Errorf("BuildProfile: querying %s %d-%02d: %w", userID, year, int(month), err)
	}

	p := &MonthlyProfile{
		UserID:            userID,
		Year:              year,
		Month:             month,
		CategoryBreakdown: make(map[string]float64),
	}

	merchants := make(map[string]*MerchantShare)
	tags := make(map[string]bool)

	for _, r := range records {
		p.TransactionCount++
		mag := r.Magnitude()
		if r.IsSpend() {
			p.SpendCount++
			p.TotalSpend += mag
		} else {
			p.CashInCount++
			p.TotalCashIn += mag
		}

		cat := r.Category
		if cat == "" {
			cat = "uncategorized"
		}
		p.CategoryBreakdown[cat] += mag

		if r.Merchant != "" {
			m, ok := merchants[r.Merchant]
			if !ok {
				m = &MerchantShare{Merchant: r.Merchant}
				merchants[r.Merchant] = m
			}
			m.Amount += mag
			m.Count++
		}
		for _, t := range r.SegmentTags {
			if t != "" {
				tags[t] = true
			}
		}
	}
	p.NetFlow = p.TotalCashIn - p.TotalSpend

	for _, m := range merchants {
		p.TopMerchants = append(p.TopMerchants, *m)
	}
	sort.Slice(p.TopMerchants, func(i, j int) bool {
		if p.TopMerchants[i].Amount != p.TopMerchants[j].Amount {
			return p.TopMerchants[i].Amount > p.TopMerchants[j].Amount
		}
		return p.TopMerchants[i].Merchant < p.TopMerchants[j].Merchant
	})

	for t := range tags {
		p.SegmentTags = append(p.SegmentTags, t)
	}
	sort.Strings(p.SegmentTags)

	return p, nil
}

// BuildProfileExpectingData is BuildProfile for users the caller already
// selected as active: a window outside the store's data horizon is a
// DataError instead of a silent zero profile.
func (a *Aggregator) BuildProfileExpectingData(ctx context.Context, userID string, year int, month time.Month) (*MonthlyProfile, error) {
	earliest, latest, ok, err := a.store.Horizon(ctx)
	if err != nil {
		return nil, fmt.Errorf("BuildProfileExpectingData: reading horizon: %w", err)
	}
	start, end := store.MonthWindow(year, month)
	if !ok || end.Before(earliest) || start.After(latest) {
		return nil, &store.DataError{
			Op: "BuildProfileExpectingData", UserID: userID, Year: year, Month: month,
			Reason: "requested window lies outside the available data horizon",
		}
	}
	return a.BuildProfile(ctx, userID, year, month)
}
