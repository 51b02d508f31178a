package features_test

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/dianvu/MayaProject/internal/features"
	"github.com/dianvu/MayaProject/internal/profile"
)

func TestEncode_ZeroProfileIsFinite(t *testing.T) {
	enc := features.NewEncoder()
	p := &profile.MonthlyProfile{UserID: "u1", Year: 2025, Month: time.April}

	v := enc.Encode(p)
	if len(v) != len(features.Names) {
		t.Fatalf("vector length = %d, want %d", len(v), len(features.Names))
	}
	for i, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			t.Errorf("feature %s = %v, want finite", features.Names[i], f)
		}
		if f != 0 {
			t.Errorf("feature %s = %v for zero profile, want 0", features.Names[i], f)
		}
	}
}

func TestEncode_Reproducible(t *testing.T) {
	enc := features.NewEncoder()
	p := &profile.MonthlyProfile{
		UserID: "u1", Year: 2025, Month: time.April,
		TransactionCount: 10, SpendCount: 8, CashInCount: 2,
		TotalSpend: 680.4237, TotalCashIn: 965.5426,
		CategoryBreakdown: map[string]float64{"food": 400.4237, "transport": 280, "salary": 965.5426},
	}

	first := enc.Encode(p)
	for i := 0; i < 10; i++ {
		if got := enc.Encode(p); !reflect.DeepEqual(first, got) {
			t.Fatalf("encoding not bit-identical: %v vs %v", first, got)
		}
	}
}

func TestEncode_Values(t *testing.T) {
	enc := features.NewEncoder()
	p := &profile.MonthlyProfile{
		SpendCount: 4, CashInCount: 2,
		TotalSpend: 100, TotalCashIn: 200,
		CategoryBreakdown: map[string]float64{"a": 150, "b": 150},
	}

	v := enc.Encode(p)
	if v[0] != 4 || v[1] != 2 || v[2] != 100 || v[3] != 200 {
		t.Errorf("count/total features = %v", v[:4])
	}
	if v[4] != 0.5 {
		t.Errorf("spend_to_cash_in = %v, want 0.5", v[4])
	}
	// Two equal categories have maximal diversity.
	if math.Abs(v[5]-1.0) > 1e-12 {
		t.Errorf("category_diversity = %v, want 1", v[5])
	}
	if v[6] != 25 {
		t.Errorf("avg_spend_size = %v, want 25", v[6])
	}
}

func TestCategoryDiversity_SingleCategoryIsZero(t *testing.T) {
	enc := features.NewEncoder()
	p := &profile.MonthlyProfile{
		SpendCount: 1, TotalSpend: 50,
		CategoryBreakdown: map[string]float64{"food": 50},
	}
	if v := enc.Encode(p); v[5] != 0 {
		t.Errorf("category_diversity = %v for single category, want 0", v[5])
	}
}
