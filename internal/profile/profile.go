package profile

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MerchantShare is one merchant's aggregate share of a month's activity.
type MerchantShare struct {
	Merchant string  `json:"merchant"`
	Amount   float64 `json:"amount"`
	Count    int     `json:"count"`
}

// MonthlyProfile holds the aggregated transaction facts for one user in one
// calendar month. It is derived data: recomputed idempotently from the
// transaction store, never mutated in place.
type MonthlyProfile struct {
	UserID string     `json:"user_id"`
	Year   int        `json:"year"`
	Month  time.Month `json:"month"`

	TransactionCount int `json:"transaction_count"`
	SpendCount       int `json:"spend_count"`
	CashInCount      int `json:"cash_in_count"`

	// TotalSpend and TotalCashIn are non-negative magnitudes.
	TotalSpend  float64 `json:"total_spend"`
	TotalCashIn float64 `json:"total_cash_in"`
	// NetFlow is cash-in minus spend; negative when the user outspent income.
	NetFlow float64 `json:"net_flow"`

	// CategoryBreakdown maps category to the absolute amount moved in it.
	// The values sum to TotalSpend + TotalCashIn.
	CategoryBreakdown map[string]float64 `json:"category_breakdown"`

	// TopMerchants is ordered by amount descending, merchant name ascending.
	TopMerchants []MerchantShare `json:"top_merchants"`

	// SegmentTags are the distinct user tags seen this month, sorted.
	SegmentTags []string `json:"segment_tags"`
}

// IsZero reports whether the month had no transactions at all.
func (p *MonthlyProfile) IsZero() bool {
	return p.TransactionCount == 0
}

// Summary renders the profile as the compact text block embedded in prompts,
// in the same shape the report narrative is anchored to.
func (p *MonthlyProfile) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "User %s monthly transactions Summary (Timestamp: %d-%02d)\n", p.UserID, p.Year, int(p.Month))

	if p.IsZero() {
		b.WriteString("No transaction data found for this period.")
		return b.String()
	}

	fmt.Fprintf(&b, "- Total spend is %.2f with %d transactions\n", p.TotalSpend, p.SpendCount)
	fmt.Fprintf(&b, "- Total cash-in is %.2f with %d transactions\n", p.TotalCashIn, p.CashInCount)
	fmt.Fprintf(&b, "- Net flow for the month is %.2f\n", p.NetFlow)

	if len(p.TopMerchants) > 0 {
		parts := make([]string, 0, len(p.TopMerchants))
		total := p.TotalSpend + p.TotalCashIn
		for _, m := range p.TopMerchants {
			pct := 0.0
			if total > 0 {
				pct = m.Amount / total * 100
			}
			parts = append(parts, fmt.Sprintf("%s with %.2f%%", strings.ToLower(m.Merchant), pct))
		}
		fmt.Fprintf(&b, "- Transaction channels include %s\n", strings.Join(parts, ", "))
	}

	if len(p.CategoryBreakdown) > 0 {
		cats := make([]string, 0, len(p.CategoryBreakdown))
		for c := range p.CategoryBreakdown {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		parts := make([]string, 0, len(cats))
		for _, c := range cats {
			parts = append(parts, fmt.Sprintf("%s %.2f", strings.ToLower(c), p.CategoryBreakdown[c]))
		}
		fmt.Fprintf(&b, "- Category breakdown: %s\n", strings.Join(parts, ", "))
	}

	if len(p.SegmentTags) > 0 {
		fmt.Fprintf(&b, "- User tags: %s", strings.Join(formatTags(p.SegmentTags), ", "))
	} else {
		b.WriteString("- User tags: Not available")
	}
	return b.String()
}

// formatTags converts UPPER_CASE_WITH_UNDERSCORES tags to lowercase with
// spaces for readable narrative text.
func formatTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.ReplaceAll(strings.ToLower(t), "_", " "))
	}
	return out
}
