package features

import (
	"math"

	"github.com/dianvu/MayaProject/internal/profile"
)

// SchemaVersion identifies the feature encoding. Clusters built under one
// version must never be compared with vectors from another; a version bump
// forces a re-clustering run.
const SchemaVersion = "v1"

// Names lists the encoded features in vector order. The order is part of the
// schema: changing it is a version bump.
var Names = []string{
	"spend_count",
	"cash_in_count",
	"total_spend",
	"total_cash_in",
	"spend_to_cash_in",
	"category_diversity",
	"avg_spend_size",
}

// Index returns the position of the named feature in a Vector, or -1 when
// the name is not part of this schema version.
func Index(name string) int {
	for i, n := range Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Vector is a fixed-length encoding of one monthly profile, ordered as Names.
type Vector []float64

// Encoder converts monthly profiles into feature vectors. It is stateless;
// the same profile always encodes to a bit-identical vector.
type Encoder struct{}

// NewEncoder returns the v1 encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode is total over valid profiles: every ratio guards its denominator
// and falls back to 0, so the zero profile encodes to the zero vector.
func (e *Encoder) Encode(p *profile.MonthlyProfile) Vector {
	v := make(Vector, len(Names))
	v[0] = float64(p.SpendCount)
	v[1] = float64(p.CashInCount)
	v[2] = p.TotalSpend
	v[3] = p.TotalCashIn
	v[4] = safeRatio(p.TotalSpend, p.TotalCashIn)
	v[5] = categoryDiversity(p.CategoryBreakdown)
	v[6] = safeRatio(p.TotalSpend, float64(p.SpendCount))
	return v
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// categoryDiversity is the Shannon entropy of the category amount shares,
// normalized to [0, 1]. One category (or none) scores 0; a perfectly even
// split across categories scores 1.
func categoryDiversity(breakdown map[string]float64) float64 {
	if len(breakdown) < 2 {
		return 0
	}
	var total float64
	for _, amt := range breakdown {
		total += amt
	}
	if total == 0 {
		return 0
	}
	var entropy float64
	for _, amt := range breakdown {
		if amt <= 0 {
			continue
		}
		share := amt / total
		entropy -= share * math.Log2(share)
	}
	return entropy / math.Log2(float64(len(breakdown)))
}
