package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dianvu/MayaProject/internal/cluster"
	"github.com/dianvu/MayaProject/internal/cohort"
	"github.com/dianvu/MayaProject/internal/llm"
	"github.com/dianvu/MayaProject/internal/report"
)

// Config carries the environment-derived settings: credentials, endpoints,
// and backend selection. Tunable policy lives in a separate YAML file so it
// can be reviewed and versioned apart from secrets.
type Config struct {
	// GeminiAPIKey authenticates text generation. Required unless a custom
	// generator is wired in.
	GeminiAPIKey string
	// GeminiModel overrides the default generation model when non-empty.
	GeminiModel string

	// ClassifierEndpoint is the safety classifier scoring URL.
	ClassifierEndpoint string
	// ClassifierAPIKey is sent as a bearer token when non-empty.
	ClassifierAPIKey string

	// StoreBackend selects the transaction store: "sqlite" or "bigquery".
	StoreBackend string
	// SQLitePath locates the transaction database for the sqlite backend.
	SQLitePath string
	// BigQueryProject, Dataset, and Table locate the bigquery backend.
	BigQueryProject string
	BigQueryDataset string
	BigQueryTable   string

	// GCSBucket, when set, enables mirroring persisted reports to GCS.
	GCSBucket string

	// OutputRoot is the local directory reports are written under.
	OutputRoot string
}

// Load reads configuration from the environment, after loading a .env file
// if one is present. A missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        os.Getenv("GEMINI_MODEL"),
		ClassifierEndpoint: os.Getenv("ETHICAL_EYE_ENDPOINT"),
		ClassifierAPIKey:   os.Getenv("ETHICAL_EYE_API_KEY"),
		StoreBackend:       os.Getenv("STORE_BACKEND"),
		SQLitePath:         os.Getenv("SQLITE_PATH"),
		BigQueryProject:    os.Getenv("BQ_PROJECT_ID"),
		BigQueryDataset:    os.Getenv("BQ_DATASET"),
		BigQueryTable:      os.Getenv("BQ_TABLE"),
		GCSBucket:          os.Getenv("GCS_BUCKET"),
		OutputRoot:         os.Getenv("REPORT_OUTPUT_ROOT"),
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "sqlite"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "transactions.db"
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = "reports"
	}

	switch cfg.StoreBackend {
	case "sqlite":
	case "bigquery":
		if cfg.BigQueryProject == "" {
			return nil, fmt.Errorf("config: bigquery backend requires BQ_PROJECT_ID")
		}
	default:
		return nil, fmt.Errorf("config: unknown store backend %q", cfg.StoreBackend)
	}
	return cfg, nil
}

// Policy holds the reviewable pipeline tunables, loaded from YAML.
type Policy struct {
	Cohort       cohort.Criteria           `yaml:"cohort"`
	Cluster      cluster.Config            `yaml:"cluster"`
	Gate         report.GateThresholds     `yaml:"gate"`
	Retry        llm.RetryPolicy           `yaml:"retry"`
	Orchestrator report.OrchestratorConfig `yaml:"orchestrator"`
	Schema       report.Schema             `yaml:"report"`
	// Concurrency bounds simultaneous per-user report generations.
	Concurrency int `yaml:"concurrency"`
}

// DefaultPolicy returns the standard tunables used when no policy file is
// given.
func DefaultPolicy() Policy {
	return Policy{
		Cohort:       cohort.Criteria{MinTransactions: 1},
		Cluster:      cluster.Config{Seed: 42},
		Gate:         report.DefaultGateThresholds(),
		Retry:        llm.DefaultRetryPolicy(),
		Orchestrator: report.DefaultOrchestratorConfig(),
		Schema:       report.DefaultSchema(),
		Concurrency:  4,
	}
}

// LoadPolicy parses a YAML policy file over the defaults, so a partial file
// only overrides what it names.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("LoadPolicy: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("LoadPolicy: parse %s: %w", path, err)
	}
	if err := policy.validate(); err != nil {
		return Policy{}, fmt.Errorf("LoadPolicy: %s: %w", path, err)
	}
	return policy, nil
}

func (p Policy) validate() error {
	if p.Gate.SafeBelow < 0 || p.Gate.BlockAt > 1 || p.Gate.SafeBelow >= p.Gate.BlockAt {
		return fmt.Errorf("gate thresholds out of order: safe_below=%.2f block_at=%.2f", p.Gate.SafeBelow, p.Gate.BlockAt)
	}
	if p.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative, got %d", p.Concurrency)
	}
	if len(p.Schema.Sections) == 0 {
		return fmt.Errorf("report schema names no sections")
	}
	return nil
}
