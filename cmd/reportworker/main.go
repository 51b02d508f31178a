package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dianvu/MayaProject/internal/config"
	"github.com/dianvu/MayaProject/internal/ethical"
	"github.com/dianvu/MayaProject/internal/jobs"
	"github.com/dianvu/MayaProject/internal/jobs/inmemory"
	"github.com/dianvu/MayaProject/internal/llm"
	"github.com/dianvu/MayaProject/internal/logger"
	"github.com/dianvu/MayaProject/internal/report"
	"github.com/dianvu/MayaProject/internal/runner"
	"github.com/dianvu/MayaProject/internal/store"
	storebq "github.com/dianvu/MayaProject/internal/store/bigquery"
	storesqlite "github.com/dianvu/MayaProject/internal/store/sqlite"
)

// reportworker schedules one generation job per cohort user through the job
// queue instead of running the batch inline. Job state stays queryable after
// the run, which is what distinguishes this entrypoint from reportgen.
func main() {
	var (
		year       = flag.Int("year", 0, "Reporting year, e.g. 2025")
		month      = flag.Int("month", 0, "Reporting month, 1-12")
		policyPath = flag.String("policy", "", "YAML policy file (optional, defaults apply)")
		workers    = flag.Int("workers", 4, "Concurrent job workers")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	log := logger.NewWithLevel(*logLevel)

	if *year == 0 || *month < 1 || *month > 12 {
		log.Fatal().Msg("both -year and -month (1-12) are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	policy := config.DefaultPolicy()
	if *policyPath != "" {
		policy, err = config.LoadPolicy(*policyPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load policy")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open transaction store")
	}
	defer ts.Close()

	gemini, err := llm.NewGemini(ctx, llm.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	classifier, err := ethical.NewHTTPClassifier(ethical.HTTPConfig{
		Endpoint: cfg.ClassifierEndpoint,
		APIKey:   cfg.ClassifierAPIKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create safety classifier")
	}
	gate, err := report.NewGate(classifier, policy.Gate)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build safety gate")
	}

	orch := report.NewOrchestrator(llm.NewRetrying(gemini, policy.Retry, *workers), policy.Schema, policy.Orchestrator, log)
	asm := report.NewAssembler(cfg.OutputRoot, policy.Schema)
	r := runner.New(ts, orch, gate, asm, runner.Config{
		Criteria:    policy.Cohort,
		Cluster:     policy.Cluster,
		Concurrency: *workers,
	}, log)

	// The snapshot is built once and shared read-only by every job.
	snap, err := r.BuildSnapshot(ctx, *year, time.Month(*month))
	if err != nil {
		log.Fatal().Err(err).Msg("Snapshot build failed")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(len(snap.Cohort)+1, *workers, jobStore)
	defer jobQueue.Close()

	handler := func(ctx context.Context, job jobs.Job) error {
		genJob, ok := job.(*jobs.GenerateReportJob)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected job type: %T", job))
		}
		outcome := r.GenerateUser(ctx, snap, genJob.UserID)
		switch outcome.Status {
		case runner.OutcomeSaved, runner.OutcomeFlaggedAndSaved:
			genJob.ReportPath = outcome.Path
			return nil
		case runner.OutcomeBlocked:
			return jobs.Permanent(fmt.Errorf("%s", outcome.Reason))
		default:
			return fmt.Errorf("%s", outcome.Reason)
		}
	}

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	for _, userID := range snap.Cohort {
		job := &jobs.GenerateReportJob{UserID: userID, Year: *year, Month: time.Month(*month)}
		if err := jobQueue.PublishGenerateReport(ctx, job); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to enqueue job")
		}
	}

	waitForDrain(ctx, jobStore, len(snap.Cohort), log)

	failed, _ := jobStore.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	for _, j := range failed {
		fmt.Printf("%s\tfailed\t%s\n", j.UserID, j.Error)
	}
	completed, _ := jobStore.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted})
	fmt.Printf("completed=%d failed=%d\n", len(completed), len(failed))

	if len(failed) > 0 {
		os.Exit(1)
	}
}

// waitForDrain polls the job store until every scheduled job reaches a
// terminal state.
func waitForDrain(ctx context.Context, jobStore *inmemory.Store, total int, log zerolog.Logger) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Warn().Msg("Interrupted while waiting for jobs to finish")
			return
		case <-ticker.C:
			completed, _ := jobStore.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted})
			failed, _ := jobStore.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
			if len(completed)+len(failed) >= total {
				return
			}
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.TransactionStore, error) {
	switch cfg.StoreBackend {
	case "bigquery":
		return storebq.New(ctx, storebq.Config{
			ProjectID: cfg.BigQueryProject,
			Dataset:   cfg.BigQueryDataset,
			Table:     cfg.BigQueryTable,
		})
	default:
		return storesqlite.Open(cfg.SQLitePath)
	}
}
