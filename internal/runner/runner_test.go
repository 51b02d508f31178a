package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dianvu/MayaProject/internal/cluster"
	"github.com/dianvu/MayaProject/internal/cohort"
	"github.com/dianvu/MayaProject/internal/domain"
	"github.com/dianvu/MayaProject/internal/ethical"
	"github.com/dianvu/MayaProject/internal/report"
	"github.com/dianvu/MayaProject/internal/store"
)

// funcGenerator adapts a function to llm.TextGenerator; the function must be
// safe for concurrent use.
type funcGenerator func(ctx context.Context, prompt string) (string, error)

func (f funcGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// funcClassifier adapts a function to ethical.TextClassifier.
type funcClassifier func(ctx context.Context, text string) (ethical.Score, error)

func (f funcClassifier) Classify(ctx context.Context, text string) (ethical.Score, error) {
	return f(ctx, text)
}

// proseDraft carries no numeric claims, so it validates against any profile.
const proseDraft = "Spending stayed steady through the month, with groceries leading and no unusual swings."

func plainGenerator() funcGenerator {
	return func(ctx context.Context, prompt string) (string, error) {
		return proseDraft, nil
	}
}

func safeClassifier() funcClassifier {
	return func(ctx context.Context, text string) (ethical.Score, error) {
		return ethical.Score{Label: ethical.LabelSafe, Confidence: 0.95}, nil
	}
}

// seedMonth inserts count spend transactions totalling spendTotal and one
// cash-in of cashIn for the user in the given month.
func seedMonth(t *testing.T, mem *store.Memory, userID string, year int, month time.Month, spendTotal float64, count int, cashIn float64) {
	t.Helper()
	per := spendTotal / float64(count)
	for i := 0; i < count; i++ {
		err := mem.Add(domain.TransactionRecord{
			UserID:    userID,
			Timestamp: time.Date(year, month, 2+i%25, 10, 0, 0, 0, time.UTC),
			Amount:    -per,
			Category:  []string{"groceries", "transport"}[i%2],
			Direction: domain.DirectionCashOut,
			Merchant:  "card",
		})
		if err != nil {
			t.Fatalf("seed spend: %v", err)
		}
	}
	if cashIn > 0 {
		err := mem.Add(domain.TransactionRecord{
			UserID:    userID,
			Timestamp: time.Date(year, month, 1, 9, 0, 0, 0, time.UTC),
			Amount:    cashIn,
			Category:  "salary",
			Direction: domain.DirectionCashIn,
			Merchant:  "transfer",
		})
		if err != nil {
			t.Fatalf("seed cash-in: %v", err)
		}
	}
}

// seedTwoGroupCohort puts ten users in April 2025: five modest spenders
// (u01..u05, the first spending 1000 against 1200 cash-in) and five heavy
// spenders, distinct enough to split into two clusters.
func seedTwoGroupCohort(t *testing.T, mem *store.Memory) []string {
	t.Helper()
	var users []string
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("u%02d", i)
		users = append(users, id)
		seedMonth(t, mem, id, 2025, time.April, 1000+float64(i-1)*20, 10, 1200)
	}
	for i := 6; i <= 10; i++ {
		id := fmt.Sprintf("u%02d", i)
		users = append(users, id)
		seedMonth(t, mem, id, 2025, time.April, 9000+float64(i)*100, 40, 15000)
	}
	return users
}

func testConfig() Config {
	return Config{
		Criteria:    cohort.Criteria{MinTransactions: 1},
		Cluster:     cluster.Config{Seed: 42},
		Concurrency: 3,
	}
}

func newTestRunner(t *testing.T, mem *store.Memory, gen funcGenerator, cls funcClassifier, root string) *Runner {
	t.Helper()
	schema := report.DefaultSchema()
	orch := report.NewOrchestrator(gen, schema, report.DefaultOrchestratorConfig(), zerolog.Nop())
	gate, err := report.NewGate(cls, report.DefaultGateThresholds())
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	asm := report.NewAssembler(root, schema)
	return New(mem, orch, gate, asm, testConfig(), zerolog.Nop())
}

func TestRunnerEndToEnd(t *testing.T) {
	mem := store.NewMemory()
	users := seedTwoGroupCohort(t, mem)
	root := t.TempDir()
	r := newTestRunner(t, mem, plainGenerator(), safeClassifier(), root)

	summary, err := r.Run(context.Background(), 2025, time.April)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Outcomes) != len(users) {
		t.Fatalf("outcomes = %d, want %d", len(summary.Outcomes), len(users))
	}
	if !summary.AllSucceeded() {
		t.Fatalf("expected full success, got %+v", summary.Outcomes)
	}
	if got := summary.Count(OutcomeSaved); got != len(users) {
		t.Errorf("saved = %d, want %d", got, len(users))
	}

	wantPath := filepath.Join(root, "2025", "April", "u01.json")
	var u01 *Outcome
	for i := range summary.Outcomes {
		if summary.Outcomes[i].UserID == "u01" {
			u01 = &summary.Outcomes[i]
		}
	}
	if u01 == nil || u01.Path != wantPath {
		t.Fatalf("u01 outcome = %+v, want path %s", u01, wantPath)
	}

	doc, err := report.Load(root, "u01", 2025, time.April)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.EthicalFlag != report.FlagSafe {
		t.Errorf("flag = %s, want %s", doc.EthicalFlag, report.FlagSafe)
	}
	if len(doc.Sections) != 3 {
		t.Errorf("sections = %d, want 3", len(doc.Sections))
	}
	if doc.MonthName != "April" {
		t.Errorf("month name = %q, want April", doc.MonthName)
	}
}

func TestRunnerSnapshotSplitsCohortIntoTwoClusters(t *testing.T) {
	mem := store.NewMemory()
	seedTwoGroupCohort(t, mem)
	r := newTestRunner(t, mem, plainGenerator(), safeClassifier(), t.TempDir())

	snap, err := r.BuildSnapshot(context.Background(), 2025, time.April)
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	if len(snap.Cohort) != 10 {
		t.Fatalf("cohort = %d, want 10", len(snap.Cohort))
	}
	if snap.Clusters == nil {
		t.Fatal("expected a clustering snapshot")
	}
	if len(snap.Clusters.Clusters) != 2 {
		t.Errorf("clusters = %d, want 2", len(snap.Clusters.Clusters))
	}
	low, ok := snap.Clusters.For("u01")
	if !ok {
		t.Fatal("u01 has no cluster")
	}
	high, ok := snap.Clusters.For("u10")
	if !ok {
		t.Fatal("u10 has no cluster")
	}
	if low.Label == high.Label {
		t.Error("modest and heavy spenders should land in different clusters")
	}

	p := snap.Profiles["u01"]
	if p.TotalSpend != 1000 || p.TotalCashIn != 1200 {
		t.Errorf("u01 profile spend/cash-in = %.2f/%.2f, want 1000/1200", p.TotalSpend, p.TotalCashIn)
	}
}

func TestRunnerIsolatesGenerationFailure(t *testing.T) {
	mem := store.NewMemory()
	users := seedTwoGroupCohort(t, mem)
	gen := funcGenerator(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "User u03 ") {
			return "", errors.New("model rejected the request")
		}
		return proseDraft, nil
	})
	root := t.TempDir()
	r := newTestRunner(t, mem, gen, safeClassifier(), root)

	summary, err := r.Run(context.Background(), 2025, time.April)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := summary.Count(OutcomeFailed); got != 1 {
		t.Fatalf("failed = %d, want 1: %+v", got, summary.Outcomes)
	}
	if got := summary.Count(OutcomeSaved); got != len(users)-1 {
		t.Errorf("saved = %d, want %d", got, len(users)-1)
	}
	for _, o := range summary.Outcomes {
		if o.UserID == "u03" {
			if o.Status != OutcomeFailed {
				t.Errorf("u03 status = %s, want %s", o.Status, OutcomeFailed)
			}
			if !strings.Contains(o.Reason, "executive_summary") {
				t.Errorf("u03 reason should name the failed section, got %q", o.Reason)
			}
		}
	}
	if summary.AllSucceeded() {
		t.Error("summary with a failure must not report success")
	}
	if _, err := report.Load(root, "u03", 2025, time.April); !errors.Is(err, report.ErrNotGenerated) {
		t.Errorf("failed user's report must not exist, Load returned %v", err)
	}
}

func TestRunnerBlocksUnsafeReport(t *testing.T) {
	mem := store.NewMemory()
	seedTwoGroupCohort(t, mem)
	gen := funcGenerator(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "User u02 ") {
			return "Take out a payday loan to cover the gap.", nil
		}
		return proseDraft, nil
	})
	cls := funcClassifier(func(ctx context.Context, text string) (ethical.Score, error) {
		if strings.Contains(text, "payday loan") {
			return ethical.Score{Label: ethical.LabelUnsafe, Confidence: 0.95}, nil
		}
		return ethical.Score{Label: ethical.LabelSafe, Confidence: 0.9}, nil
	})
	root := t.TempDir()
	r := newTestRunner(t, mem, gen, cls, root)

	summary, err := r.Run(context.Background(), 2025, time.April)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := summary.Count(OutcomeBlocked); got != 1 {
		t.Fatalf("blocked = %d, want 1: %+v", got, summary.Outcomes)
	}
	if _, err := report.Load(root, "u02", 2025, time.April); !errors.Is(err, report.ErrNotGenerated) {
		t.Errorf("blocked user's report must not exist, Load returned %v", err)
	}
	if _, err := report.Load(root, "u01", 2025, time.April); err != nil {
		t.Errorf("other users should still be saved: %v", err)
	}
}

func TestRunnerFlagsBorderlineReport(t *testing.T) {
	mem := store.NewMemory()
	seedTwoGroupCohort(t, mem)
	cls := funcClassifier(func(ctx context.Context, text string) (ethical.Score, error) {
		return ethical.Score{Label: ethical.LabelUnsafe, Confidence: 0.5}, nil
	})
	root := t.TempDir()
	r := newTestRunner(t, mem, plainGenerator(), cls, root)

	summary, err := r.Run(context.Background(), 2025, time.April)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := summary.Count(OutcomeFlaggedAndSaved); got != len(summary.Outcomes) {
		t.Fatalf("flagged = %d, want all: %+v", got, summary.Outcomes)
	}
	if !summary.AllSucceeded() {
		t.Error("flagged reports are still persisted and count as success")
	}

	doc, err := report.Load(root, "u01", 2025, time.April)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.EthicalFlag != report.FlagFlagged {
		t.Errorf("flag = %s, want %s", doc.EthicalFlag, report.FlagFlagged)
	}
}

func TestRunnerSingletonCohort(t *testing.T) {
	mem := store.NewMemory()
	seedMonth(t, mem, "solo", 2025, time.April, 500, 5, 700)
	root := t.TempDir()
	r := newTestRunner(t, mem, plainGenerator(), safeClassifier(), root)

	summary, err := r.Run(context.Background(), 2025, time.April)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Outcomes) != 1 || summary.Outcomes[0].Status != OutcomeSaved {
		t.Fatalf("outcomes = %+v, want one saved", summary.Outcomes)
	}
	if _, err := report.Load(root, "solo", 2025, time.April); err != nil {
		t.Errorf("solo report should exist: %v", err)
	}
}

func TestRunnerEmptyCohort(t *testing.T) {
	mem := store.NewMemory()
	r := newTestRunner(t, mem, plainGenerator(), safeClassifier(), t.TempDir())

	summary, err := r.Run(context.Background(), 2025, time.April)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Outcomes) != 0 {
		t.Errorf("outcomes = %+v, want none", summary.Outcomes)
	}
	if !summary.AllSucceeded() {
		t.Error("empty batch is a success")
	}
}
