package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dianvu/MayaProject/internal/config"
	"github.com/dianvu/MayaProject/internal/ethical"
	"github.com/dianvu/MayaProject/internal/gcsmirror"
	"github.com/dianvu/MayaProject/internal/llm"
	"github.com/dianvu/MayaProject/internal/logger"
	"github.com/dianvu/MayaProject/internal/report"
	"github.com/dianvu/MayaProject/internal/runner"
	"github.com/dianvu/MayaProject/internal/store"
	storebq "github.com/dianvu/MayaProject/internal/store/bigquery"
	storesqlite "github.com/dianvu/MayaProject/internal/store/sqlite"
)

func main() {
	var (
		year       = flag.Int("year", 0, "Reporting year, e.g. 2025")
		month      = flag.Int("month", 0, "Reporting month, 1-12")
		users      = flag.String("users", "", "Comma-separated user IDs (skips cohort selection)")
		policyPath = flag.String("policy", "", "YAML policy file (optional, defaults apply)")
		out        = flag.String("out", "", "Report output root (overrides REPORT_OUTPUT_ROOT)")
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
	if *out != "" {
		cfg.OutputRoot = *out
	}

	policy := config.DefaultPolicy()
	if *policyPath != "" {
		policy, err = config.LoadPolicy(*policyPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load policy")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ts, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open transaction store")
	}
	defer ts.Close()

	gemini, err := llm.NewGemini(ctx, llm.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	gen := llm.NewRetrying(gemini, policy.Retry, policy.Concurrency)

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

	orch := report.NewOrchestrator(gen, policy.Schema, policy.Orchestrator, log)
	asm := report.NewAssembler(cfg.OutputRoot, policy.Schema)

	r := runner.New(ts, orch, gate, asm, runner.Config{
		Criteria:    policy.Cohort,
		Cluster:     policy.Cluster,
		Concurrency: policy.Concurrency,
	}, log)

	var summary *runner.Summary
	if *users != "" {
		snap, err := r.BuildSnapshotFor(ctx, *year, time.Month(*month), splitUsers(*users))
		if err != nil {
			log.Fatal().Err(err).Msg("Snapshot build failed")
		}
		summary = r.RunWithSnapshot(ctx, snap)
	} else {
		summary, err = r.Run(ctx, *year, time.Month(*month))
		if err != nil {
			log.Fatal().Err(err).Msg("Batch run failed")
		}
	}

	if cfg.GCSBucket != "" {
		mirrorReports(ctx, cfg, summary, log)
	}

	for _, o := range summary.Outcomes {
		fmt.Printf("%s\t%s\t%s%s\n", o.UserID, o.Status, o.Path, reason(o))
	}
	fmt.Printf("saved=%d flagged=%d blocked=%d failed=%d\n",
		summary.Count(runner.OutcomeSaved),
		summary.Count(runner.OutcomeFlaggedAndSaved),
		summary.Count(runner.OutcomeBlocked),
		summary.Count(runner.OutcomeFailed))

	if !summary.AllSucceeded() {
		os.Exit(1)
	}
}

func splitUsers(s string) []string {
	var out []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func reason(o runner.Outcome) string {
	if o.Reason == "" {
		return ""
	}
	return "\t" + o.Reason
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

// mirrorReports uploads every persisted document to GCS. Best effort: the
// local documents are already the source of truth.
func mirrorReports(ctx context.Context, cfg *config.Config, summary *runner.Summary, log zerolog.Logger) {
	gcs, err := gcsmirror.NewGCSStore(ctx, cfg.GCSBucket)
	if err != nil {
		log.Error().Err(err).Msg("GCS mirroring disabled")
		return
	}
	defer gcs.Close()

	var uploads []gcsmirror.Upload
	for _, o := range summary.Outcomes {
		if o.Path != "" {
			uploads = append(uploads, gcsmirror.Upload{UserID: o.UserID, Path: o.Path})
		}
	}
	m := gcsmirror.New(gcs, "reports", log)
	ok := m.MirrorAll(ctx, summary.Year, summary.Month, uploads)
	log.Info().Int("mirrored", ok).Int("total", len(uploads)).Msg("GCS mirroring finished")
}
