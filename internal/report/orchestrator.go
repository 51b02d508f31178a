package report

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dianvu/MayaProject/internal/cluster"
	"github.com/dianvu/MayaProject/internal/llm"
	"github.com/dianvu/MayaProject/internal/profile"
)

// sectionState tracks a section through its draft/validate loop.
type sectionState int

const (
	stateDrafting sectionState = iota
	stateValidating
	stateAccepted
	stateRetrying
	stateFailed
)

func (s sectionState) String() string {
	switch s {
	case stateDrafting:
		return "drafting"
	case stateValidating:
		return "validating"
	case stateAccepted:
		return "accepted"
	case stateRetrying:
		return "retrying"
	default:
		return "failed"
	}
}

// GenerationError reports that one section could not produce an acceptable
// draft within the attempt budget. The report for that user is abandoned.
type GenerationError struct {
	Section       string
	Attempts      int
	LastViolation string
	Err           error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("report generation failed for section %q after %d attempts: %v", e.Section, e.Attempts, e.Err)
	}
	return fmt.Sprintf("report generation failed for section %q after %d attempts: %s", e.Section, e.Attempts, e.LastViolation)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// OrchestratorConfig tunes the section generation loop.
type OrchestratorConfig struct {
	// Approach is the prompting strategy applied to every section.
	Approach Approach `yaml:"approach"`
	// MaxDraftAttempts bounds how many drafts a section may go through
	// before the report is abandoned.
	MaxDraftAttempts int `yaml:"max_draft_attempts"`
}

// DefaultOrchestratorConfig uses chain-of-thought prompting with three
// drafts per section.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Approach:         ApproachChainOfThought,
		MaxDraftAttempts: 3,
	}
}

// Orchestrator drives the multi-section prompt loop for one report: each
// section is drafted, validated against the user's own numbers, and
// re-prompted with the violation when a draft fails. Sections are generated
// in schema order; a section that exhausts its attempts fails the whole
// report.
type Orchestrator struct {
	gen    llm.TextGenerator
	schema Schema
	cfg    OrchestratorConfig
	log    zerolog.Logger
}

// NewOrchestrator wires an orchestrator over the given text generator.
func NewOrchestrator(gen llm.TextGenerator, schema Schema, cfg OrchestratorConfig, log zerolog.Logger) *Orchestrator {
	if cfg.MaxDraftAttempts <= 0 {
		cfg.MaxDraftAttempts = DefaultOrchestratorConfig().MaxDraftAttempts
	}
	if cfg.Approach == "" {
		cfg.Approach = ApproachChainOfThought
	}
	return &Orchestrator{gen: gen, schema: schema, cfg: cfg, log: log}
}

// Generate produces the full section map for one user's report. peer may be
// nil when the user has no cluster assignment. On failure the partial
// sections are discarded and the error identifies the failed section.
func (o *Orchestrator) Generate(ctx context.Context, p *profile.MonthlyProfile, peer *cluster.Stats) (map[string]string, error) {
	pc := BuildPromptContext(p, peer)
	sections := make(map[string]string, len(o.schema.Sections))

	for _, spec := range o.schema.Sections {
		text, err := o.generateSection(ctx, spec, pc)
		if err != nil {
			return nil, err
		}
		sections[spec.Name] = text
	}
	return sections, nil
}

func (o *Orchestrator) generateSection(ctx context.Context, spec SectionSpec, pc PromptContext) (string, error) {
	base := BuildPrompt(spec, o.cfg.Approach, pc)
	prompt := base
	log := o.log.With().Str("section", spec.Name).Logger()

	var lastViolation string
	for attempt := 1; attempt <= o.cfg.MaxDraftAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", &GenerationError{Section: spec.Name, Attempts: attempt - 1, Err: err}
		}

		log.Debug().Int("attempt", attempt).Str("state", stateDrafting.String()).Msg("drafting section")
		text, err := o.gen.Generate(ctx, prompt)
		if err != nil {
			// Transport-level retries already happened inside the generator.
			return "", &GenerationError{Section: spec.Name, Attempts: attempt, Err: err}
		}

		lastViolation = ValidateSection(text, spec, pc.Facts)
		if lastViolation == "" {
			log.Debug().Int("attempt", attempt).Str("state", stateAccepted.String()).Msg("section accepted")
			return text, nil
		}
		log.Warn().Int("attempt", attempt).Str("state", stateRetrying.String()).
			Str("violation", lastViolation).Msg("section draft rejected")
		prompt = RefinePrompt(base, lastViolation)
	}

	log.Error().Str("state", stateFailed.String()).Str("violation", lastViolation).Msg("section exhausted draft attempts")
	return "", &GenerationError{Section: spec.Name, Attempts: o.cfg.MaxDraftAttempts, LastViolation: lastViolation}
}
