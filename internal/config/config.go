package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/drallgood/catalog-summarizer/internal/database"
)

const (
	MinCacheTTL        = 15 * time.Minute
	MaxCacheTTL        = 30 * time.Minute
	MinRateInterval    = 1 * time.Second
	MaxRateInterval    = 3 * time.Second
	MinRateCooldown    = 10 * time.Second
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config holds all configuration for the application
type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Database database.ConfigDatabase `yaml:"database"`

	Cache CacheConfig `yaml:"cache"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	Sources struct {
		GoogleBooks SourceConfig `yaml:"google_books"`
		Hardcover   SourceConfig `yaml:"hardcover"`
	} `yaml:"sources"`

	Summarizer SummarizerConfig `yaml:"summarizer"`

	Worker WorkerConfig `yaml:"worker"`

	Ingest IngestConfig `yaml:"ingest"`
}

// CacheConfig configures the summary read cache.
type CacheConfig struct {
	Backend   string        `yaml:"backend"`
	TTL       time.Duration `yaml:"ttl"`
	RedisURL  string        `yaml:"redis_url"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// RateLimitConfig paces calls to each external catalog source.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxCalls    int           `yaml:"max_calls"`
	MinInterval time.Duration `yaml:"min_interval"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// SourceConfig configures one external catalog source.
type SourceConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SummarizerConfig points at the external summarization service.
type SummarizerConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	Style   string        `yaml:"style"`
}

// WorkerConfig controls the summary job worker.
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Concurrency  int           `yaml:"concurrency"`
	MetricsAddr  string        `yaml:"metrics_addr"`
}

// IngestConfig controls batch ingestion.
type IngestConfig struct {
	TargetCount      int  `yaml:"target_count"`
	OverFetch        int  `yaml:"over_fetch"`
	EnqueueSummaries bool `yaml:"enqueue_summaries"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg := &Config{}
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Database.Type = string(database.DatabaseTypeSQLite)
	cfg.Database.Path = database.GetDefaultDatabasePath()

	cfg.Cache = CacheConfig{
		Backend:   CacheBackendMemory,
		TTL:       20 * time.Minute,
		KeyPrefix: "catalog:summary:",
	}

	cfg.RateLimit = RateLimitConfig{
		Window:      60 * time.Second,
		MaxCalls:    100,
		MinInterval: 1500 * time.Millisecond,
		Cooldown:    15 * time.Second,
	}

	cfg.Sources.GoogleBooks = SourceConfig{
		Enabled: true,
		BaseURL: "https://www.googleapis.com/books/v1",
		Timeout: 20 * time.Second,
	}
	cfg.Sources.Hardcover = SourceConfig{
		Enabled: false,
		BaseURL: "https://api.hardcover.app/v1/graphql",
		Timeout: 30 * time.Second,
	}

	cfg.Summarizer = SummarizerConfig{
		BaseURL: "http://localhost:9700",
		Timeout: 2 * time.Minute,
		Style:   "concise",
	}

	cfg.Worker = WorkerConfig{
		PollInterval: 5 * time.Second,
		Concurrency:  2,
	}

	cfg.Ingest = IngestConfig{
		TargetCount:      20,
		OverFetch:        2,
		EnqueueSummaries: true,
	}
	return cfg
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of increasing priority.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := cfg.mergeFile(configFile); err != nil {
			return nil, err
		}
	} else {
		log.Debug().Msg("No config file specified, using environment variables and defaults")
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("database_type", cfg.Database.Type).
		Str("cache_backend", cfg.Cache.Backend).
		Dur("cache_ttl", cfg.Cache.TTL).
		Bool("google_books", cfg.Sources.GoogleBooks.Enabled).
		Bool("hardcover", cfg.Sources.Hardcover.Enabled).
		Bool("has_hardcover_token", cfg.Sources.Hardcover.Token != "").
		Str("summarizer_url", cfg.Summarizer.BaseURL).
		Msg("Configuration loaded")

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if database.ParseDatabaseType(c.Database.Type) == "" {
		return &ConfigError{Field: "database.type", Msg: fmt.Sprintf("unsupported database type %q", c.Database.Type)}
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			return &ConfigError{Field: "cache.redis_url", Msg: "is required for the redis backend"}
		}
	default:
		return &ConfigError{Field: "cache.backend", Msg: fmt.Sprintf("unsupported backend %q", c.Cache.Backend)}
	}
	if c.Cache.TTL < MinCacheTTL || c.Cache.TTL > MaxCacheTTL {
		return &ConfigError{Field: "cache.ttl", Msg: fmt.Sprintf("must be between %s and %s", MinCacheTTL, MaxCacheTTL)}
	}

	if c.RateLimit.Window <= 0 {
		return &ConfigError{Field: "rate_limit.window", Msg: "must be positive"}
	}
	if c.RateLimit.MaxCalls <= 0 {
		return &ConfigError{Field: "rate_limit.max_calls", Msg: "must be positive"}
	}
	if c.RateLimit.MinInterval < MinRateInterval || c.RateLimit.MinInterval > MaxRateInterval {
		return &ConfigError{Field: "rate_limit.min_interval", Msg: fmt.Sprintf("must be between %s and %s", MinRateInterval, MaxRateInterval)}
	}
	if c.RateLimit.Cooldown < MinRateCooldown {
		return &ConfigError{Field: "rate_limit.cooldown", Msg: fmt.Sprintf("must be at least %s", MinRateCooldown)}
	}

	if c.Sources.Hardcover.Enabled && c.Sources.Hardcover.Token == "" {
		return &ConfigError{Field: "sources.hardcover.token", Msg: "is required when the hardcover source is enabled"}
	}

	if c.Worker.Concurrency <= 0 {
		return &ConfigError{Field: "worker.concurrency", Msg: "must be positive"}
	}
	if c.Worker.PollInterval <= 0 {
		return &ConfigError{Field: "worker.poll_interval", Msg: "must be positive"}
	}
	if c.Ingest.TargetCount <= 0 {
		return &ConfigError{Field: "ingest.target_count", Msg: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Msg
}

// loadFromEnv applies environment overrides
func loadFromEnv(cfg *Config) {
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.Database.Type = getEnv("DATABASE_TYPE", cfg.Database.Type)
	cfg.Database.Path = getEnv("DATABASE_PATH", cfg.Database.Path)
	cfg.Database.Host = getEnv("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getIntFromEnv("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.Name = getEnv("DATABASE_NAME", cfg.Database.Name)
	cfg.Database.User = getEnv("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.SSLMode = getEnv("DATABASE_SSL_MODE", cfg.Database.SSLMode)

	cfg.Cache.Backend = strings.ToLower(getEnv("CACHE_BACKEND", cfg.Cache.Backend))
	cfg.Cache.TTL = getDurationFromEnv("CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.RedisURL = getEnv("REDIS_URL", cfg.Cache.RedisURL)

	cfg.RateLimit.Window = getDurationFromEnv("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)
	cfg.RateLimit.MaxCalls = getIntFromEnv("RATE_LIMIT_MAX_CALLS", cfg.RateLimit.MaxCalls)
	cfg.RateLimit.MinInterval = getDurationFromEnv("RATE_LIMIT_MIN_INTERVAL", cfg.RateLimit.MinInterval)
	cfg.RateLimit.Cooldown = getDurationFromEnv("RATE_LIMIT_COOLDOWN", cfg.RateLimit.Cooldown)

	cfg.Sources.GoogleBooks.APIKey = getEnv("GOOGLE_BOOKS_API_KEY", cfg.Sources.GoogleBooks.APIKey)
	if token := getEnv("HARDCOVER_TOKEN", ""); token != "" {
		cfg.Sources.Hardcover.Token = token
		cfg.Sources.Hardcover.Enabled = true
	}

	cfg.Summarizer.BaseURL = strings.TrimSuffix(getEnv("SUMMARIZER_URL", cfg.Summarizer.BaseURL), "/")
	cfg.Summarizer.APIKey = getEnv("SUMMARIZER_API_KEY", cfg.Summarizer.APIKey)
	cfg.Summarizer.Timeout = getDurationFromEnv("SUMMARIZER_TIMEOUT", cfg.Summarizer.Timeout)

	cfg.Worker.PollInterval = getDurationFromEnv("WORKER_POLL_INTERVAL", cfg.Worker.PollInterval)
	cfg.Worker.Concurrency = getIntFromEnv("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Ingest.EnqueueSummaries = getBoolFromEnv("INGEST_ENQUEUE_SUMMARIES", cfg.Ingest.EnqueueSummaries)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getBoolFromEnv(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		b, err := strconv.ParseBool(value)
		if err != nil {
			log.Warn().Err(err).Str("env", key).Msg("Failed to parse bool from environment")
			return fallback
		}
		return b
	}
	return fallback
}

func getIntFromEnv(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Warn().Err(err).Str("env", key).Msg("Failed to parse int from environment")
			return fallback
		}
		return i
	}
	return fallback
}

func getDurationFromEnv(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Warn().Err(err).Str("env", key).Msg("Failed to parse duration from environment")
			return fallback
		}
		return d
	}
	return fallback
}
