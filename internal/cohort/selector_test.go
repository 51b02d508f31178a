package cohort_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/dianvu/MayaProject/internal/cohort"
	"github.com/dianvu/MayaProject/internal/domain"
	"github.com/dianvu/MayaProject/internal/store"
)

// seed adds n spend transactions of -10 and one cash-in of cashIn for the user.
func seed(t *testing.T, m *store.Memory, user string, spends int, cashIn float64) {
	t.Helper()
	base := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < spends; i++ {
		err := m.Add(domain.TransactionRecord{
			UserID: user, Timestamp: base.Add(time.Duration(i) * time.Hour),
			Amount: -10, Category: "misc", Direction: domain.DirectionCashOut,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if cashIn > 0 {
		err := m.Add(domain.TransactionRecord{
			UserID: user, Timestamp: base.Add(30 * time.Hour),
			Amount: cashIn, Category: "salary", Direction: domain.DirectionCashIn,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestSelectActive_ThresholdsAndOrdering(t *testing.T) {
	m := store.NewMemory()
	seed(t, m, "charlie", 5, 100) // 6 txs
	seed(t, m, "alice", 5, 100)   // 6 txs, ties with charlie on count
	seed(t, m, "bob", 9, 100)     // 10 txs
	seed(t, m, "dave", 1, 100)    // below min transactions
	seed(t, m, "erin", 8, 0)      // no cash-in

	sel := cohort.NewSelector(m)
	got, err := sel.SelectActive(context.Background(), 2025, time.April, cohort.Criteria{
		MinTransactions: 3,
		MinSpend:        20,
		MinCashIn:       50,
	})
	if err != nil {
		t.Fatalf("SelectActive: %v", err)
	}

	// bob first on count, then the alice/charlie tie broken by user ID.
	want := []string{"bob", "alice", "charlie"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SelectActive = %v, want %v", got, want)
	}
}

func TestSelectActive_MaxUsersTruncatesAfterSort(t *testing.T) {
	m := store.NewMemory()
	seed(t, m, "a", 3, 10)
	seed(t, m, "b", 6, 10)
	seed(t, m, "c", 9, 10)

	sel := cohort.NewSelector(m)
	got, err := sel.SelectActive(context.Background(), 2025, time.April, cohort.Criteria{
		MinTransactions: 1,
		MaxUsers:        2,
	})
	if err != nil {
		t.Fatalf("SelectActive: %v", err)
	}
	want := []string{"c", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SelectActive = %v, want %v", got, want)
	}
}

func TestSelectActive_EmptyResultIsNotAnError(t *testing.T) {
	m := store.NewMemory()
	seed(t, m, "a", 1, 0)

	sel := cohort.NewSelector(m)
	got, err := sel.SelectActive(context.Background(), 2025, time.April, cohort.Criteria{
		MinTransactions: 100,
	})
	if err != nil {
		t.Fatalf("SelectActive: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty cohort, got %v", got)
	}
}
