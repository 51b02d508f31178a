package cohort

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dianvu/MayaProject/internal/store"
)

// Criteria are the per-user thresholds a user must meet over the target month
// to count as active.
type Criteria struct {
	MinTransactions int     `yaml:"min_transactions"`
	MinSpend        float64 `yaml:"min_spend"`
	MinCashIn       float64 `yaml:"min_cash_in"`
	// MaxUsers truncates the result after sorting; zero means no limit.
	MaxUsers int `yaml:"max_users"`
}

// Selector filters the full population down to the active cohort for a
// period.
type Selector struct {
	store store.TransactionStore
}

// NewSelector creates a Selector over the given store.
func NewSelector(s store.TransactionStore) *Selector {
	return &Selector{store: s}
}

// SelectActive returns the user IDs meeting the criteria over the calendar
// month, ordered by transaction count descending then user ID ascending so
// repeated runs pick the same users. An empty result is valid.
func (s *Selector) SelectActive(ctx context.Context, year int, month time.Month, c Criteria) ([]string, error) {
	aggs, err := s.store.MonthlyAggregates(ctx, year, month)
	if err != nil {
		return nil, fmt.Errorf("SelectActive: aggregating %d-%02d: %w", year, int(month), err)
	}

	var eligible []store.UserAggregate
	for _, a := range aggs {
		if a.TransactionCount < c.MinTransactions {
			continue
		}
		if a.TotalSpend < c.MinSpend || a.TotalCashIn < c.MinCashIn {
			continue
		}
		eligible = append(eligible, a)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].TransactionCount != eligible[j].TransactionCount {
			return eligible[i].TransactionCount > eligible[j].TransactionCount
		}
		return eligible[i].UserID < eligible[j].UserID
	})

	if c.MaxUsers > 0 && len(eligible) > c.MaxUsers {
		eligible = eligible[:c.MaxUsers]
	}

	out := make([]string, 0, len(eligible))
	for _, a := range eligible {
		out = append(out, a.UserID)
	}
	return out, nil
}
