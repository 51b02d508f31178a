package report

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/dianvu/MayaProject/internal/ethical"
	"github.com/dianvu/MayaProject/internal/llm"
)

// GateThresholds split the classifier's unsafe-label confidence into the
// three policy outcomes. An unsafe score below SafeBelow is treated as
// classifier noise and passes as Safe; at or above BlockAt the report is
// blocked; anything between is persisted but flagged for review.
type GateThresholds struct {
	SafeBelow float64 `yaml:"safe_below"`
	BlockAt   float64 `yaml:"block_at"`
}

// DefaultGateThresholds returns the standard 0.4 / 0.8 split.
func DefaultGateThresholds() GateThresholds {
	return GateThresholds{SafeBelow: 0.4, BlockAt: 0.8}
}

func (t GateThresholds) validate() error {
	if t.SafeBelow < 0 || t.BlockAt > 1 || t.SafeBelow >= t.BlockAt {
		return fmt.Errorf("gate thresholds: need 0 <= safe_below < block_at <= 1, got %.2f and %.2f", t.SafeBelow, t.BlockAt)
	}
	return nil
}

// GateResult is the screening outcome for a piece of text.
type GateResult struct {
	Flag       EthicalFlag
	Confidence float64
}

// Gate screens generated report text through the safety classifier and maps
// its score onto the three-way policy outcome. Screening happens after
// generation and before persistence; a blocked result means the report must
// not be written.
type Gate struct {
	classifier ethical.TextClassifier
	thresholds GateThresholds
	attempts   int
	baseDelay  time.Duration
}

// NewGate builds a gate over the given classifier. Transient classifier
// failures are retried a few times before the error surfaces; classifier
// failure is never treated as a safe outcome.
func NewGate(classifier ethical.TextClassifier, thresholds GateThresholds) (*Gate, error) {
	if err := thresholds.validate(); err != nil {
		return nil, err
	}
	return &Gate{
		classifier: classifier,
		thresholds: thresholds,
		attempts:   3,
		baseDelay:  200 * time.Millisecond,
	}, nil
}

// Screen classifies one piece of text and maps the score to a flag.
func (g *Gate) Screen(ctx context.Context, text string) (GateResult, error) {
	score, err := g.classify(ctx, text)
	if err != nil {
		return GateResult{}, fmt.Errorf("Screen: classify: %w", err)
	}
	return g.apply(score), nil
}

// ScreenSections screens every section and folds the results into one
// overall outcome: the most severe section flag wins, carrying its
// confidence. Sections are screened in name order so the overall result is
// deterministic when severities tie.
func (g *Gate) ScreenSections(ctx context.Context, sections map[string]string) (GateResult, map[string]GateResult, error) {
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := GateResult{Flag: FlagSafe}
	perSection := make(map[string]GateResult, len(sections))
	for _, name := range names {
		res, err := g.Screen(ctx, sections[name])
		if err != nil {
			return GateResult{}, nil, fmt.Errorf("ScreenSections: section %q: %w", name, err)
		}
		perSection[name] = res
		if severity(res.Flag) > severity(overall.Flag) {
			overall = res
		}
	}
	return overall, perSection, nil
}

func (g *Gate) apply(score ethical.Score) GateResult {
	if score.Label != ethical.LabelUnsafe {
		return GateResult{Flag: FlagSafe, Confidence: score.Confidence}
	}
	switch {
	case score.Confidence < g.thresholds.SafeBelow:
		return GateResult{Flag: FlagSafe, Confidence: score.Confidence}
	case score.Confidence >= g.thresholds.BlockAt:
		return GateResult{Flag: FlagBlocked, Confidence: score.Confidence}
	default:
		return GateResult{Flag: FlagFlagged, Confidence: score.Confidence}
	}
}

func (g *Gate) classify(ctx context.Context, text string) (ethical.Score, error) {
	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		score, err := g.classifier.Classify(ctx, text)
		if err == nil {
			return score, nil
		}
		lastErr = err
		if !llm.IsTransient(err) {
			return ethical.Score{}, err
		}
		if attempt < g.attempts {
			delay := g.baseDelay << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ethical.Score{}, ctx.Err()
			}
		}
	}
	return ethical.Score{}, lastErr
}

func severity(f EthicalFlag) int {
	switch f {
	case FlagBlocked:
		return 2
	case FlagFlagged:
		return 1
	default:
		return 0
	}
}
