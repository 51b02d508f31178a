package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/dianvu/MayaProject/internal/cluster"
	"github.com/dianvu/MayaProject/internal/features"
	"github.com/dianvu/MayaProject/internal/profile"
)

// Approach selects the prompting strategy used for a section.
type Approach string

const (
	ApproachZeroShot       Approach = "zero_shot"
	ApproachFewShot        Approach = "few_shot"
	ApproachChainOfThought Approach = "chain_of_thought"
)

// PromptContext carries everything a section prompt may reference: the
// rendered profile summary, peer-comparison lines derived from the user's
// cluster, and the numeric facts generated text is validated against.
type PromptContext struct {
	Summary   string
	PeerLines []string
	Facts     map[string]float64
}

// BuildPromptContext assembles the shared context for all sections of one
// user's report. peer may be nil when the user was not clustered; the report
// then simply carries no comparison lines.
func BuildPromptContext(p *profile.MonthlyProfile, peer *cluster.Stats) PromptContext {
	pc := PromptContext{
		Summary: p.Summary(),
		Facts:   make(map[string]float64),
	}

	pc.addFact(float64(p.Year))
	pc.addFact(float64(p.Month))
	pc.addFact(float64(p.TransactionCount))
	pc.addFact(float64(p.SpendCount))
	pc.addFact(float64(p.CashInCount))
	pc.addFact(p.TotalSpend)
	pc.addFact(p.TotalCashIn)
	pc.addFact(p.NetFlow)
	pc.addFact(math.Abs(p.NetFlow))
	if p.SpendCount > 0 {
		pc.addFact(p.TotalSpend / float64(p.SpendCount))
	}

	total := p.TotalSpend + p.TotalCashIn
	for _, amt := range p.CategoryBreakdown {
		pc.addFact(amt)
		if total > 0 {
			pc.addFact(amt / total * 100)
		}
	}
	for _, m := range p.TopMerchants {
		pc.addFact(m.Amount)
		pc.addFact(float64(m.Count))
		if total > 0 {
			pc.addFact(m.Amount / total * 100)
		}
	}

	if peer != nil && peer.Size > 1 {
		pc.addPeerLines(p, peer)
	}
	return pc
}

func (pc *PromptContext) addPeerLines(p *profile.MonthlyProfile, peer *cluster.Stats) {
	pc.addFact(float64(peer.Size))
	pc.PeerLines = append(pc.PeerLines,
		fmt.Sprintf("The user is compared against a group of %d users with similar monthly behavior.", peer.Size))

	spendIdx := features.Index("total_spend")
	cashIdx := features.Index("total_cash_in")

	if spendIdx >= 0 {
		pct := peer.PercentileOf(spendIdx, p.TotalSpend) * 100
		pc.addFact(pct)
		pc.PeerLines = append(pc.PeerLines,
			fmt.Sprintf("Their total spend is higher than %.0f%% of similar users.", pct))
		if med, ok := peer.Percentiles[50]; ok && spendIdx < len(med) {
			pc.addFact(med[spendIdx])
			pc.PeerLines = append(pc.PeerLines,
				fmt.Sprintf("The median total spend among similar users is %.2f.", med[spendIdx]))
		}
	}
	if cashIdx >= 0 {
		pct := peer.PercentileOf(cashIdx, p.TotalCashIn) * 100
		pc.addFact(pct)
		pc.PeerLines = append(pc.PeerLines,
			fmt.Sprintf("Their total cash-in is higher than %.0f%% of similar users.", pct))
		if med, ok := peer.Percentiles[50]; ok && cashIdx < len(med) {
			pc.addFact(med[cashIdx])
			pc.PeerLines = append(pc.PeerLines,
				fmt.Sprintf("The median total cash-in among similar users is %.2f.", med[cashIdx]))
		}
	}
}

// addFact registers a number the generated text is allowed to cite, both
// exact and rounded to two decimals so prompt-formatted figures match.
func (pc *PromptContext) addFact(v float64) {
	pc.Facts[factKey(v)] = v
	rounded := math.Round(v*100) / 100
	pc.Facts[factKey(rounded)] = rounded
}

func factKey(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

var sectionInstructions = map[string]string{
	SectionExecutiveSummary: "Write a short executive summary of this user's month: overall spend versus cash-in, the direction of their net flow, and the single most notable behavior.",
	SectionSpendingPatterns: "Describe this user's spending patterns for the month: which categories and channels dominate, how activity compares with similar users, and any visible concentration.",
	SectionRecommendations:  "Give three to five practical, specific recommendations this user could act on next month, each anchored in a figure from the data.",
}

func sectionInstruction(name string) string {
	if ins, ok := sectionInstructions[name]; ok {
		return ins
	}
	return fmt.Sprintf("Write the %q section of this user's monthly financial report using only the data above.", strings.ReplaceAll(name, "_", " "))
}

const fewShotExample = `Example data:
User example-user monthly transactions Summary (Timestamp: 2024-03)
- Total spend is 620.00 with 14 transactions
- Total cash-in is 900.00 with 2 transactions
- Net flow for the month is 280.00

Example output:
This month the user took in 900.00 across 2 deposits and spent 620.00 over 14
purchases, ending 280.00 ahead. Spending was steady rather than concentrated,
with no single purchase dominating the month.`

// BuildPrompt renders the full prompt for one section under the chosen
// approach. The same inputs always render the same prompt.
func BuildPrompt(spec SectionSpec, approach Approach, pc PromptContext) string {
	var b strings.Builder
	b.WriteString("You are a financial analyst writing one section of a personal monthly report.\n\n")
	b.WriteString("Transaction data:\n")
	b.WriteString(pc.Summary)
	b.WriteString("\n")
	if len(pc.PeerLines) > 0 {
		b.WriteString("\nPeer comparison:\n")
		for _, line := range pc.PeerLines {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	switch approach {
	case ApproachFewShot:
		b.WriteString(fewShotExample)
		b.WriteString("\n\nNow, for the data above: ")
		b.WriteString(sectionInstruction(spec.Name))
	case ApproachChainOfThought:
		b.WriteString(sectionInstruction(spec.Name))
		b.WriteString("\nFirst reason through the data step by step in private, then output only the final section text with none of the reasoning.")
	default:
		b.WriteString(sectionInstruction(spec.Name))
	}

	b.WriteString("\n\nRules:\n")
	b.WriteString("- Cite only figures that appear in the data above; invent no numbers.\n")
	b.WriteString("- Write plain prose paragraphs without markdown headings.\n")
	if spec.MaxLength > 0 {
		fmt.Fprintf(&b, "- Keep the section under %d characters.\n", spec.MaxLength)
	}
	return b.String()
}

// RefinePrompt extends a base prompt with the validation violation from the
// previous attempt so the next draft can correct it.
func RefinePrompt(base, violation string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\nYour previous draft was rejected: ")
	b.WriteString(violation)
	b.WriteString("\nRewrite the section and fix this.\n")
	return b.String()
}
