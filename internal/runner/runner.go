package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dianvu/MayaProject/internal/cluster"
	"github.com/dianvu/MayaProject/internal/cohort"
	"github.com/dianvu/MayaProject/internal/features"
	"github.com/dianvu/MayaProject/internal/logger"
	"github.com/dianvu/MayaProject/internal/profile"
	"github.com/dianvu/MayaProject/internal/report"
	"github.com/dianvu/MayaProject/internal/store"
)

// OutcomeStatus classifies one user's result in a batch run.
type OutcomeStatus string

const (
	// OutcomeSaved means the report passed the gate cleanly and was persisted.
	OutcomeSaved OutcomeStatus = "saved"
	// OutcomeFlaggedAndSaved means the report was persisted but marked for
	// human review.
	OutcomeFlaggedAndSaved OutcomeStatus = "flagged_and_saved"
	// OutcomeBlocked means the safety gate refused the report; nothing was
	// persisted.
	OutcomeBlocked OutcomeStatus = "blocked"
	// OutcomeFailed means generation or persistence failed for this user.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome is the per-user result of a batch run.
type Outcome struct {
	UserID string
	Status OutcomeStatus
	// Path is set when a document was persisted.
	Path string
	// Reason explains blocked and failed outcomes.
	Reason string
}

// Summary aggregates the outcomes of one batch run.
type Summary struct {
	Year     int
	Month    time.Month
	Outcomes []Outcome
}

// Count returns how many users finished with the given status.
func (s *Summary) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// AllSucceeded reports whether every user's report was persisted.
func (s *Summary) AllSucceeded() bool {
	return s.Count(OutcomeBlocked) == 0 && s.Count(OutcomeFailed) == 0
}

// Snapshot is the shared read-only input to all per-user report jobs in one
// batch: the selected cohort, their profiles, and the peer clustering. It is
// built once before any report is generated.
type Snapshot struct {
	Year     int
	Month    time.Month
	Cohort   []string
	Profiles map[string]*profile.MonthlyProfile
	// Clusters is nil when the cohort was too degenerate to cluster; reports
	// are then generated without peer comparison.
	Clusters *cluster.Snapshot
}

// Peer returns the cluster stats for a user, or nil when unavailable.
func (s *Snapshot) Peer(userID string) *cluster.Stats {
	if s.Clusters == nil {
		return nil
	}
	stats, ok := s.Clusters.For(userID)
	if !ok {
		return nil
	}
	return stats
}

// Config tunes a batch run.
type Config struct {
	// Criteria selects the active-user cohort.
	Criteria cohort.Criteria `yaml:"cohort"`
	// Cluster controls peer clustering.
	Cluster cluster.Config `yaml:"cluster"`
	// Concurrency bounds how many user reports generate at once.
	Concurrency int `yaml:"concurrency"`
}

// Runner drives a full monthly batch: snapshot, then a bounded worker pool
// generating, screening, and persisting one report per cohort user. Users
// are isolated; one failure never stops the batch.
type Runner struct {
	store        store.TransactionStore
	selector     *cohort.Selector
	aggregator   *profile.Aggregator
	encoder      *features.Encoder
	orchestrator *report.Orchestrator
	gate         *report.Gate
	assembler    *report.Assembler
	cfg          Config
	log          zerolog.Logger
}

// New wires a batch runner over the given collaborators.
func New(ts store.TransactionStore, orch *report.Orchestrator, gate *report.Gate, asm *report.Assembler, cfg Config, log zerolog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Runner{
		store:        ts,
		selector:     cohort.NewSelector(ts),
		aggregator:   profile.NewAggregator(ts),
		encoder:      features.NewEncoder(),
		orchestrator: orch,
		gate:         gate,
		assembler:    asm,
		cfg:          cfg,
		log:          log,
	}
}

// BuildSnapshot selects the cohort, builds every member's profile, and
// clusters the cohort. Clustering degeneracy is tolerated: the snapshot then
// carries no peer context and reports fall back to solo narratives.
func (r *Runner) BuildSnapshot(ctx context.Context, year int, month time.Month) (*Snapshot, error) {
	users, err := r.selector.SelectActive(ctx, year, month, r.cfg.Criteria)
	if err != nil {
		return nil, fmt.Errorf("BuildSnapshot: select cohort: %w", err)
	}
	r.log.Info().Int("cohort_size", len(users)).Int("year", year).Str("month", month.String()).Msg("cohort selected")
	return r.snapshotFor(ctx, year, month, users)
}

// BuildSnapshotFor builds a snapshot for an explicit user list, bypassing
// cohort selection. Peer clustering still runs over just these users.
func (r *Runner) BuildSnapshotFor(ctx context.Context, year int, month time.Month, users []string) (*Snapshot, error) {
	return r.snapshotFor(ctx, year, month, users)
}

func (r *Runner) snapshotFor(ctx context.Context, year int, month time.Month, users []string) (*Snapshot, error) {
	snap := &Snapshot{
		Year:     year,
		Month:    month,
		Cohort:   users,
		Profiles: make(map[string]*profile.MonthlyProfile, len(users)),
	}
	vectors := make(map[string]features.Vector, len(users))
	for _, userID := range users {
		p, err := r.aggregator.BuildProfile(ctx, userID, year, month)
		if err != nil {
			return nil, fmt.Errorf("snapshot: profile for %s: %w", userID, err)
		}
		snap.Profiles[userID] = p
		vectors[userID] = r.encoder.Encode(p)
	}

	if len(users) > 0 {
		clusters, err := cluster.Cluster(vectors, year, month, r.cfg.Cluster)
		if err != nil {
			var cerr *cluster.ClusteringError
			if !errors.As(err, &cerr) {
				return nil, fmt.Errorf("snapshot: cluster cohort: %w", err)
			}
			r.log.Warn().Str("reason", cerr.Reason).Msg("cohort not clusterable, reports will omit peer comparison")
		} else {
			snap.Clusters = clusters
			r.log.Info().Int("clusters", len(clusters.Clusters)).Msg("cohort clustered")
		}
	}
	return snap, nil
}

// Run executes the full batch for one month. The returned summary has one
// outcome per cohort user, ordered by user ID. Run only fails outright when
// the snapshot itself cannot be built.
func (r *Runner) Run(ctx context.Context, year int, month time.Month) (*Summary, error) {
	snap, err := r.BuildSnapshot(ctx, year, month)
	if err != nil {
		return nil, err
	}
	return r.RunWithSnapshot(ctx, snap), nil
}

// RunWithSnapshot generates reports for every user in a prebuilt snapshot.
func (r *Runner) RunWithSnapshot(ctx context.Context, snap *Snapshot) *Summary {
	summary := &Summary{Year: snap.Year, Month: snap.Month, Outcomes: make([]Outcome, len(snap.Cohort))}

	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, userID := range snap.Cohort {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			summary.Outcomes[i] = r.generateOne(ctx, snap, userID)
		}(i, userID)
	}
	wg.Wait()

	sort.Slice(summary.Outcomes, func(i, j int) bool {
		return summary.Outcomes[i].UserID < summary.Outcomes[j].UserID
	})
	r.log.Info().
		Int("saved", summary.Count(OutcomeSaved)).
		Int("flagged", summary.Count(OutcomeFlaggedAndSaved)).
		Int("blocked", summary.Count(OutcomeBlocked)).
		Int("failed", summary.Count(OutcomeFailed)).
		Msg("batch finished")
	return summary
}

// GenerateUser produces, screens, and persists one user's report against a
// prebuilt snapshot. Used by job workers that schedule users individually.
func (r *Runner) GenerateUser(ctx context.Context, snap *Snapshot, userID string) Outcome {
	return r.generateOne(ctx, snap, userID)
}

func (r *Runner) generateOne(ctx context.Context, snap *Snapshot, userID string) Outcome {
	log := logger.ForUser(r.log, userID, snap.Year, int(snap.Month))

	p, ok := snap.Profiles[userID]
	if !ok || p.IsZero() {
		log.Warn().Msg("no profile data, skipping user")
		return Outcome{UserID: userID, Status: OutcomeFailed, Reason: "no transaction data for period"}
	}

	sections, err := r.orchestrator.Generate(ctx, p, snap.Peer(userID))
	if err != nil {
		log.Error().Err(err).Msg("report generation failed")
		return Outcome{UserID: userID, Status: OutcomeFailed, Reason: err.Error()}
	}

	overall, perSection, err := r.gate.ScreenSections(ctx, sections)
	if err != nil {
		log.Error().Err(err).Msg("safety screening failed")
		return Outcome{UserID: userID, Status: OutcomeFailed, Reason: err.Error()}
	}

	path, err := r.assembler.AssembleAndSave(userID, snap.Year, snap.Month, sections, overall, perSection)
	if err != nil {
		var blocked *report.EthicalBlock
		if errors.As(err, &blocked) {
			log.Warn().Float64("confidence", blocked.Confidence).Msg("report blocked by safety gate")
			return Outcome{UserID: userID, Status: OutcomeBlocked, Reason: err.Error()}
		}
		log.Error().Err(err).Msg("report persistence failed")
		return Outcome{UserID: userID, Status: OutcomeFailed, Reason: err.Error()}
	}

	status := OutcomeSaved
	if overall.Flag == report.FlagFlagged {
		status = OutcomeFlaggedAndSaved
		log.Warn().Float64("confidence", overall.Confidence).Msg("report flagged for review")
	}
	log.Info().Str("path", path).Msg("report saved")
	return Outcome{UserID: userID, Status: status, Path: path}
}
