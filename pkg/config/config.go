package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for chronicle-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Database configuration for the engine's local store (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Stores configures tenant store pools opened by the registry.
	Stores StoreConfig `yaml:"stores"`

	// Knowledge ingestion and build settings
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// LLM holds the chat/embedding endpoint configuration.
	LLM LLMConfig `yaml:"llm"`

	// Critics holds the critic panel used by the graph optimizer.
	Critics CriticConfig `yaml:"critics"`

	// Scheduler drains pending graph builds.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Optimizer holds graph quality optimization settings.
	Optimizer OptimizerConfig `yaml:"optimizer"`
}

// DatabaseConfig holds PostgreSQL database configuration for the local store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"chronicle"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"chronicle_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// StoreConfig holds tenant store pool settings applied by the registry.
type StoreConfig struct {
	// PoolMaxConns is the maximum number of connections per tenant store pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"STORE_POOL_MAX_CONNS" env-default:"25"`
	// PoolMinConns is the minimum number of connections per tenant store pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"STORE_POOL_MIN_CONNS" env-default:"1"`
	// ConnMaxLifetimeMinutes recycles connections older than this.
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes" env:"STORE_CONN_MAX_LIFETIME_MINUTES" env-default:"60"`
	// ConnMaxIdleMinutes closes connections idle longer than this.
	ConnMaxIdleMinutes int `yaml:"conn_max_idle_minutes" env:"STORE_CONN_MAX_IDLE_MINUTES" env-default:"30"`
}

// KnowledgeConfig holds document ingestion and graph build settings.
type KnowledgeConfig struct {
	// UploadDir roots the uploaded-file layout <upload_dir>/<topic>/<file>/<file>.
	UploadDir string `yaml:"upload_dir" env:"UPLOAD_DIR" env-default:"uploads"`
	// QualityStandardPath points at the quality-standards document injected
	// into extraction prompts. Missing file falls back to a built-in default.
	QualityStandardPath string `yaml:"quality_standard_path" env:"QUALITY_STANDARD_PATH" env-default:"knowledge_graph_quality_standard.md"`
	// PDFConverter is an external command that converts a PDF to markdown on
	// stdout. Empty means PDF uploads fail with an extraction error.
	PDFConverter string `yaml:"pdf_converter" env:"PDF_CONVERTER" env-default:""`
	// BuildWorkers bounds per-build stage parallelism (cognitive maps etc.).
	BuildWorkers int `yaml:"build_workers" env:"BUILD_WORKERS" env-default:"3"`
}

// LLMConfig holds the primary chat and embedding endpoint settings.
type LLMConfig struct {
	Endpoint       string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model          string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey         string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	EmbeddingModel string `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	MaxTokens      int    `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"16384"`
}

// CriticConfig holds the Anthropic critic panel used to validate optimizer
// issues before processing.
type CriticConfig struct {
	APIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
	// ModelsStr is a comma-separated list of critic model names; each model
	// becomes one voice in the panel.
	ModelsStr string `yaml:"models" env:"CRITIC_MODELS" env-default:"claude-sonnet-4-20250514"`
	// Models is the parsed list from ModelsStr (not from config file).
	Models []string `yaml:"-"`
}

// SchedulerConfig holds build scheduler settings.
type SchedulerConfig struct {
	// PollIntervalSeconds is the fixed interval between queue checks.
	PollIntervalSeconds int `yaml:"poll_interval_seconds" env:"SCHEDULER_POLL_INTERVAL_SECONDS" env-default:"10"`
	// ReconcileIntervalSeconds is the slower sweep re-enqueueing sources that
	// have blocks but never made it into the graph.
	ReconcileIntervalSeconds int `yaml:"reconcile_interval_seconds" env:"SCHEDULER_RECONCILE_INTERVAL_SECONDS" env-default:"300"`
}

// OptimizerConfig holds graph quality optimization settings.
type OptimizerConfig struct {
	// DatabaseURI selects the store the optimizer runs against; empty means
	// the engine's local store.
	DatabaseURI string `yaml:"-" env:"GRAPH_DATABASE_URI" env-default:""`
	// MaxConcurrentIssues bounds parallel issue resolution.
	MaxConcurrentIssues int `yaml:"max_concurrent_issues" env:"OPTIMIZER_MAX_CONCURRENT_ISSUES" env-default:"4"`
	// ConfidenceThreshold gates processing: only issues at or above it run.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"OPTIMIZER_CONFIDENCE_THRESHOLD" env-default:"0.9"`
	// SimilarityThreshold filters vector search hits.
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"OPTIMIZER_SIMILARITY_THRESHOLD" env-default:"0.3"`
	// TopK bounds vector search result size.
	TopK int `yaml:"top_k" env:"OPTIMIZER_TOP_K" env-default:"30"`
	// StateFilePath is the crash-safe issue checkpoint file.
	StateFilePath string `yaml:"state_file_path" env:"OPTIMIZER_STATE_FILE_PATH" env-default:"optimizer_state.json"`
	// MaxRetries bounds LLM retries per optimizer call.
	MaxRetries int `yaml:"max_retries" env:"OPTIMIZER_MAX_RETRIES" env-default:"3"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Secrets (PGPASSWORD, LLM_API_KEY, ANTHROPIC_API_KEY) must
// come from environment variables (yaml:"-" fields). A missing config.yaml is
// fine; everything then comes from the environment.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Critics.Models = splitAndTrim(c.Critics.ModelsStr)
	return nil
}

func (c *Config) validate() error {
	if c.Optimizer.ConfidenceThreshold < 0 || c.Optimizer.ConfidenceThreshold > 1 {
		return fmt.Errorf("optimizer confidence_threshold must be in [0,1], got %g", c.Optimizer.ConfidenceThreshold)
	}
	if c.Optimizer.SimilarityThreshold < -1 || c.Optimizer.SimilarityThreshold > 1 {
		return fmt.Errorf("optimizer similarity_threshold must be in [-1,1], got %g", c.Optimizer.SimilarityThreshold)
	}
	if c.Optimizer.TopK <= 0 {
		return fmt.Errorf("optimizer top_k must be positive, got %d", c.Optimizer.TopK)
	}
	if c.Optimizer.MaxConcurrentIssues <= 0 {
		return fmt.Errorf("optimizer max_concurrent_issues must be positive, got %d", c.Optimizer.MaxConcurrentIssues)
	}
	if c.Scheduler.PollIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler poll_interval_seconds must be positive, got %d", c.Scheduler.PollIntervalSeconds)
	}
	if c.Knowledge.BuildWorkers <= 0 {
		return fmt.Errorf("knowledge build_workers must be positive, got %d", c.Knowledge.BuildWorkers)
	}
	return nil
}

// ConnectionString returns a PostgreSQL key=value connection string for the
// local store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URI returns the local store as a postgresql:// URI, the same shape tenant
// store URIs arrive in.
func (c *DatabaseConfig) URI() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, url.QueryEscape(c.Password), c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
