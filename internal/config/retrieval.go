// Package config assembles the runtime configuration of the uplink binaries.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file named by UPLINK_CONFIG_FILE, and environment variables. Malformed
// environment values fall back to the layer below with a warning; the merged
// result is then checked by Validate, which fails closed.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pkgconfig "uplink/internal/pkg/config"
)

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Cache backends.
const (
	CacheBadger = "badger"
	CacheMemory = "memory"
)

// Embedding providers.
const (
	EmbeddingOpenAI = "openai"
	EmbeddingHash   = "hash"
)

// Classifier providers.
const (
	ClassifierOpenAI = "openai"
	ClassifierClaude = "claude"
	ClassifierNoop   = "noop"
)

// RetrievalConfig is the complete configuration of the store, cache, write
// queue, search engine and model collaborators.
type RetrievalConfig struct {
	Store      StoreConfig      `yaml:"store"`
	Cache      CacheConfig      `yaml:"cache"`
	Write      WriteConfig      `yaml:"write"`
	Search     SearchConfig     `yaml:"search"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Server     ServerConfig     `yaml:"server"`
	LogLevel   string           `yaml:"log_level"`
}

// StoreConfig selects and locates the record store.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"-"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// CacheConfig controls the search result cache.
type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	Dir           string        `yaml:"dir"`
	TTL           time.Duration `yaml:"ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// WriteConfig controls the write serializer.
type WriteConfig struct {
	QueueCapacity   int           `yaml:"queue_capacity"`
	Timeout         time.Duration `yaml:"timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ApplyTimeout    time.Duration `yaml:"apply_timeout"`
}

// SearchConfig holds query limits and defaults.
type SearchConfig struct {
	MaxTopK           int `yaml:"max_top_k"`
	DefaultTopK       int `yaml:"default_top_k"`
	BatchParallelism  int `yaml:"batch_parallelism"`
	IngestParallelism int `yaml:"ingest_parallelism"`

	// Timeout bounds one search computation shared by concurrent callers.
	Timeout time.Duration `yaml:"timeout"`

	// DefaultSources restricts CLI searches when no source flag is given.
	DefaultSources []string `yaml:"default_sources"`
}

// EmbeddingConfig configures the embedding collaborator.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"-"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// ClassifierConfig configures the bias classifier collaborator.
type ClassifierConfig struct {
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"-"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// ServerConfig configures the health and metrics HTTP server.
type ServerConfig struct {
	HealthPort int `yaml:"health_port"`
}

// DefaultRetrievalConfig returns the built-in defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Store: StoreConfig{
			Driver:          StoreSQLite,
			SQLitePath:      "data.db",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:       CacheBadger,
			Dir:           "search_cache",
			TTL:           24 * time.Hour,
			SweepSchedule: "@every 1h",
		},
		Write: WriteConfig{
			QueueCapacity:   1024,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ApplyTimeout:    30 * time.Second,
		},
		Search: SearchConfig{
			MaxTopK:           100,
			DefaultTopK:       10,
			BatchParallelism:  4,
			IngestParallelism: 4,
			Timeout:           60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:          EmbeddingOpenAI,
			Model:             "text-embedding-3-small",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
		},
		Classifier: ClassifierConfig{
			Provider:          ClassifierNoop,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
		},
		Server: ServerConfig{
			HealthPort: 9091,
		},
		LogLevel: "info",
	}
}

// LoadRetrievalConfig resolves the configuration from defaults, the optional
// UPLINK_CONFIG_FILE and the environment, then validates it.
//
// Environment variables:
//   - STORE_DRIVER (sqlite|postgres), SQLITE_PATH, DATABASE_URL
//   - CACHE_BACKEND (badger|memory), CACHE_DIR, CACHE_TTL, CACHE_SWEEP_SCHEDULE
//   - WRITE_QUEUE_CAPACITY, WRITE_TIMEOUT, WRITE_SHUTDOWN_TIMEOUT, WRITE_APPLY_TIMEOUT
//   - SEARCH_MAX_TOP_K, SEARCH_DEFAULT_TOP_K, SEARCH_BATCH_PARALLELISM, SEARCH_TIMEOUT,
//     INGEST_PARALLELISM
//   - EMBEDDING_PROVIDER (openai|hash), EMBEDDING_API_KEY, EMBEDDING_BASE_URL,
//     EMBEDDING_MODEL, EMBEDDING_DIMENSIONS, EMBEDDING_TIMEOUT, EMBEDDING_RPS
//   - CLASSIFIER_PROVIDER (openai|claude|noop), CLASSIFIER_API_KEY, CLASSIFIER_BASE_URL,
//     CLASSIFIER_MODEL, CLASSIFIER_TIMEOUT, CLASSIFIER_RPS
//   - HEALTH_PORT, LOG_LEVEL
//
// metrics may be nil.
func LoadRetrievalConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) (*RetrievalConfig, error) {
	cfg := DefaultRetrievalConfig()

	if path := pkgconfig.LoadEnvString("UPLINK_CONFIG_FILE", ""); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	l := pkgconfig.NewLoader(logger, metrics)
	positive := pkgconfig.ValidatePositiveDuration
	rangeInt := func(min, max int) func(int) error {
		return func(v int) error { return pkgconfig.ValidateIntRange(v, min, max) }
	}
	nonNegative := func(v float64) error { return pkgconfig.ValidateFloatRange(v, 0, 10000) }

	cfg.Store.Driver = l.String("store_driver", "STORE_DRIVER", cfg.Store.Driver,
		pkgconfig.OneOf(StoreSQLite, StorePostgres))
	cfg.Store.SQLitePath = pkgconfig.LoadEnvString("SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.DatabaseURL = pkgconfig.LoadEnvString("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.MaxOpenConns = l.Int("db_max_open_conns", "DB_MAX_OPEN_CONNS", cfg.Store.MaxOpenConns, rangeInt(1, 1000))
	cfg.Store.MaxIdleConns = l.Int("db_max_idle_conns", "DB_MAX_IDLE_CONNS", cfg.Store.MaxIdleConns, rangeInt(1, 1000))
	cfg.Store.ConnMaxLifetime = l.Duration("db_conn_max_lifetime", "DB_CONN_MAX_LIFETIME", cfg.Store.ConnMaxLifetime, positive)
	cfg.Store.ConnMaxIdleTime = l.Duration("db_conn_max_idle_time", "DB_CONN_MAX_IDLE_TIME", cfg.Store.ConnMaxIdleTime, positive)

	cfg.Cache.Backend = l.String("cache_backend", "CACHE_BACKEND", cfg.Cache.Backend,
		pkgconfig.OneOf(CacheBadger, CacheMemory))
	cfg.Cache.Dir = pkgconfig.LoadEnvString("CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.TTL = l.Duration("cache_ttl", "CACHE_TTL", cfg.Cache.TTL, positive)
	cfg.Cache.SweepSchedule = l.String("cache_sweep_schedule", "CACHE_SWEEP_SCHEDULE",
		cfg.Cache.SweepSchedule, pkgconfig.ValidateCronSchedule)

	cfg.Write.QueueCapacity = l.Int("write_queue_capacity", "WRITE_QUEUE_CAPACITY",
		cfg.Write.QueueCapacity, rangeInt(1, 1_000_000))
	cfg.Write.Timeout = l.Duration("write_timeout", "WRITE_TIMEOUT", cfg.Write.Timeout, positive)
	cfg.Write.ShutdownTimeout = l.Duration("write_shutdown_timeout", "WRITE_SHUTDOWN_TIMEOUT",
		cfg.Write.ShutdownTimeout, positive)
	cfg.Write.ApplyTimeout = l.Duration("write_apply_timeout", "WRITE_APPLY_TIMEOUT",
		cfg.Write.ApplyTimeout, positive)

	cfg.Search.MaxTopK = l.Int("search_max_top_k", "SEARCH_MAX_TOP_K", cfg.Search.MaxTopK, rangeInt(1, 10_000))
	cfg.Search.DefaultTopK = l.Int("search_default_top_k", "SEARCH_DEFAULT_TOP_K",
		cfg.Search.DefaultTopK, rangeInt(1, 10_000))
	cfg.Search.BatchParallelism = l.Int("search_batch_parallelism", "SEARCH_BATCH_PARALLELISM",
		cfg.Search.BatchParallelism, rangeInt(1, 64))
	cfg.Search.IngestParallelism = l.Int("ingest_parallelism", "INGEST_PARALLELISM",
		cfg.Search.IngestParallelism, rangeInt(1, 64))
	cfg.Search.Timeout = l.Duration("search_timeout", "SEARCH_TIMEOUT", cfg.Search.Timeout, positive)

	cfg.Embedding.Provider = l.String("embedding_provider", "EMBEDDING_PROVIDER", cfg.Embedding.Provider,
		pkgconfig.OneOf(EmbeddingOpenAI, EmbeddingHash))
	cfg.Embedding.APIKey = pkgconfig.LoadEnvString("EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.BaseURL = pkgconfig.LoadEnvString("EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.Model = pkgconfig.LoadEnvString("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimensions = l.Int("embedding_dimensions", "EMBEDDING_DIMENSIONS",
		cfg.Embedding.Dimensions, rangeInt(0, 65_536))
	cfg.Embedding.Timeout = l.Duration("embedding_timeout", "EMBEDDING_TIMEOUT", cfg.Embedding.Timeout, positive)
	cfg.Embedding.RequestsPerSecond = l.Float("embedding_rps", "EMBEDDING_RPS",
		cfg.Embedding.RequestsPerSecond, nonNegative)

	cfg.Classifier.Provider = l.String("classifier_provider", "CLASSIFIER_PROVIDER", cfg.Classifier.Provider,
		pkgconfig.OneOf(ClassifierOpenAI, ClassifierClaude, ClassifierNoop))
	cfg.Classifier.APIKey = pkgconfig.LoadEnvString("CLASSIFIER_API_KEY", cfg.Classifier.APIKey)
	cfg.Classifier.BaseURL = pkgconfig.LoadEnvString("CLASSIFIER_BASE_URL", cfg.Classifier.BaseURL)
	cfg.Classifier.Model = pkgconfig.LoadEnvString("CLASSIFIER_MODEL", cfg.Classifier.Model)
	cfg.Classifier.Timeout = l.Duration("classifier_timeout", "CLASSIFIER_TIMEOUT", cfg.Classifier.Timeout, positive)
	cfg.Classifier.RequestsPerSecond = l.Float("classifier_rps", "CLASSIFIER_RPS",
		cfg.Classifier.RequestsPerSecond, nonNegative)

	cfg.Server.HealthPort = l.Int("health_port", "HEALTH_PORT", cfg.Server.HealthPort, rangeInt(1024, 65535))
	cfg.LogLevel = l.String("log_level", "LOG_LEVEL", cfg.LogLevel,
		pkgconfig.OneOf("debug", "info", "warn", "error"))

	l.Finish()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the merged configuration. All problems are reported together.
func (c *RetrievalConfig) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case StoreSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			errs = append(errs, errors.New("store: sqlite path is required"))
		}
	case StorePostgres:
		if strings.TrimSpace(c.Store.DatabaseURL) == "" {
			errs = append(errs, errors.New("store: DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unsupported driver %q", c.Store.Driver))
	}

	switch c.Cache.Backend {
	case CacheBadger:
		if strings.TrimSpace(c.Cache.Dir) == "" {
			errs = append(errs, errors.New("cache: directory is required for badger"))
		}
	case CacheMemory:
	default:
		errs = append(errs, fmt.Errorf("cache: unsupported backend %q", c.Cache.Backend))
	}
	if err := pkgconfig.ValidatePositiveDuration(c.Cache.TTL); err != nil {
		errs = append(errs, fmt.Errorf("cache ttl: %w", err))
	}
	if err := pkgconfig.ValidateCronSchedule(c.Cache.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("cache sweep schedule: %w", err))
	}

	if c.Write.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("write: queue capacity must be positive, got %d", c.Write.QueueCapacity))
	}
	if err := pkgconfig.ValidatePositiveDuration(c.Write.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("write timeout: %w", err))
	}
	if err := pkgconfig.ValidatePositiveDuration(c.Write.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("write shutdown timeout: %w", err))
	}
	if err := pkgconfig.ValidatePositiveDuration(c.Write.ApplyTimeout); err != nil {
		errs = append(errs, fmt.Errorf("write apply timeout: %w", err))
	}

	if c.Search.MaxTopK < 1 {
		errs = append(errs, fmt.Errorf("search: max top_k must be positive, got %d", c.Search.MaxTopK))
	}
	if c.Search.DefaultTopK < 1 || c.Search.DefaultTopK > c.Search.MaxTopK {
		errs = append(errs, fmt.Errorf("search: default top_k %d must be in [1, %d]",
			c.Search.DefaultTopK, c.Search.MaxTopK))
	}
	if err := pkgconfig.ValidatePositiveDuration(c.Search.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("search timeout: %w", err))
	}
	for _, s := range c.Search.DefaultSources {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, errors.New("search: default sources must not contain blank entries"))
			break
		}
	}

	switch c.Embedding.Provider {
	case EmbeddingOpenAI:
		if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
			errs = append(errs, errors.New("embedding: EMBEDDING_API_KEY is required for the default endpoint"))
		}
		if strings.TrimSpace(c.Embedding.Model) == "" {
			errs = append(errs, errors.New("embedding: model is required"))
		}
	case EmbeddingHash:
	default:
		errs = append(errs, fmt.Errorf("embedding: unsupported provider %q", c.Embedding.Provider))
	}

	switch c.Classifier.Provider {
	case ClassifierOpenAI, ClassifierClaude:
		if c.Classifier.APIKey == "" && c.Classifier.BaseURL == "" {
			errs = append(errs, fmt.Errorf("classifier: CLASSIFIER_API_KEY is required for %s", c.Classifier.Provider))
		}
		if c.Classifier.Provider == ClassifierOpenAI && strings.TrimSpace(c.Classifier.Model) == "" {
			errs = append(errs, errors.New("classifier: model is required for openai"))
		}
	case ClassifierNoop:
	default:
		errs = append(errs, fmt.Errorf("classifier: unsupported provider %q", c.Classifier.Provider))
	}

	if err := pkgconfig.ValidateIntRange(c.Server.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}

	return errors.Join(errs...)
}

// StoreDSN returns the data source name for the configured driver.
func (c *RetrievalConfig) StoreDSN() string {
	if c.Store.Driver == StorePostgres {
		return c.Store.DatabaseURL
	}
	return c.Store.SQLitePath
}
