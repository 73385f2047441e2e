package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"lens"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"lens"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Feed
	FeedBaseURL  string `envconfig:"FEED_BASE_URL" default:"https://api.unsplash.com"`
	FeedAPIKey   string `envconfig:"FEED_API_KEY"`
	FeedPageSize int    `envconfig:"FEED_PAGE_SIZE" default:"30"`

	// Crawl scheduler
	CrawlIntervalMinutes int  `envconfig:"CRAWL_INTERVAL_MINUTES" default:"15"`
	ForwardMaxPages      int  `envconfig:"FORWARD_MAX_PAGES" default:"10"`
	BackfillEnabled      bool `envconfig:"BACKFILL_ENABLED" default:"true"`
	BackfillMaxPages     int  `envconfig:"BACKFILL_MAX_PAGES" default:"10"`

	// Remote models
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	VisionModel    string `envconfig:"VISION_MODEL" default:"gemini-2.0-flash"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	ExpansionModel string `envconfig:"EXPANSION_MODEL" default:"gemini-2.0-flash-lite"`
	RerankProvider string `envconfig:"RERANK_PROVIDER" default:"jina"`
	RerankAPIKey   string `envconfig:"RERANK_API_KEY"`

	// Workflow
	AssetDir             string `envconfig:"ASSET_DIR" default:"./data/assets"`
	WorkerConcurrency    int    `envconfig:"WORKER_CONCURRENCY" default:"4"`
	TaskMaxAttempts      int    `envconfig:"TASK_MAX_ATTEMPTS" default:"5"`
	StepRetryBaseSeconds int    `envconfig:"STEP_RETRY_BASE_SECONDS" default:"30"`

	// Evolution
	EvolutionEnabled   bool    `envconfig:"EVOLUTION_ENABLED" default:"true"`
	DailyBudgetUnits   float64 `envconfig:"DAILY_BUDGET_UNITS" default:"10000"`
	BudgetReserveUnits float64 `envconfig:"BUDGET_RESERVE_UNITS" default:"1000"`
	CostPerItemUnits   float64 `envconfig:"COST_PER_ITEM_UNITS" default:"32.2"`

	// Search
	SearchTopK      int     `envconfig:"SEARCH_TOP_K" default:"100"`
	CutoffDecay     float64 `envconfig:"CUTOFF_DECAY" default:"0.8"`
	CutoffFloor     float64 `envconfig:"CUTOFF_FLOOR" default:"0.5"`
	RerankDepth     int     `envconfig:"RERANK_DEPTH" default:"20"`
	SearchCacheTTLM int     `envconfig:"SEARCH_CACHE_TTL_MINUTES" default:"10"`

	// Server
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath  string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.FeedPageSize <= 0 {
		return fmt.Errorf("%w: FEED_PAGE_SIZE must be positive", ErrMissingRequired)
	}
	return nil
}
