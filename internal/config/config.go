// Package config loads tributaryd settings from environment variables.
// Everything has a default, so the service runs with zero configuration
// (in-memory stores, no crawler, localhost listener).
package config

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store backend selectors for Config.StoreType.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all tributaryd settings.
type Config struct {
	ListenAddr string     `default:"127.0.0.1:8080" split_words:"true"`
	LogLevel   slog.Level `default:"info" split_words:"true"`
	LogFormat  string     `default:"json" split_words:"true"`

	// StoreType selects pipeline persistence: "memory" or "postgres".
	StoreType   string `default:"memory" split_words:"true"`
	DatabaseURL string `split_words:"true"`

	SchedulerCheckInterval     time.Duration `default:"60s" split_words:"true"`
	SchedulerMaxConcurrentRuns int           `default:"5" split_words:"true"`
	SchedulerMisfireGraceSec   int           `default:"300" envconfig:"SCHEDULER_MISFIRE_GRACE_SEC"`

	// DefaultAPITimeout applies to API sources that do not set their own.
	DefaultAPITimeout time.Duration `default:"30s" envconfig:"DEFAULT_API_TIMEOUT"`

	// Scraper defaults fill gaps in scrape source configs.
	CrawlerURL         string `envconfig:"CRAWLER_URL"`
	ScraperPrompt      string `envconfig:"DEFAULT_SCRAPER_PROMPT"`
	ScraperLLMProvider string `default:"openai" envconfig:"DEFAULT_SCRAPER_LLM_PROVIDER"`
	ScraperCacheMode   string `default:"ENABLED" envconfig:"DEFAULT_SCRAPER_CACHE_MODE"`

	// LogQueueSize bounds each SSE subscriber's buffered event channel.
	LogQueueSize int `default:"1000" envconfig:"SSE_LOG_QUEUE_MAX_SIZE"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS"`

	// S3 result storage. Results stay in the primary store unless
	// S3Endpoint is set.
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"tributary"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL"`
}

// MisfireGrace returns the scheduler misfire grace as a duration.
func (c *Config) MisfireGrace() time.Duration {
	return time.Duration(c.SchedulerMisfireGraceSec) * time.Second
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("LISTEN_ADDR=%q: must be host:port (%w)", c.ListenAddr, err)
	}

	switch c.StoreType {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_TYPE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("STORE_TYPE=%q: must be %q or %q", c.StoreType, StoreMemory, StorePostgres)
	}

	if c.SchedulerCheckInterval <= 0 {
		return fmt.Errorf("SCHEDULER_CHECK_INTERVAL must be positive, got %s", c.SchedulerCheckInterval)
	}
	if c.SchedulerMaxConcurrentRuns < 1 {
		return fmt.Errorf("SCHEDULER_MAX_CONCURRENT_RUNS must be at least 1, got %d", c.SchedulerMaxConcurrentRuns)
	}
	if c.SchedulerMisfireGraceSec < 0 {
		return fmt.Errorf("SCHEDULER_MISFIRE_GRACE_SEC must not be negative, got %d", c.SchedulerMisfireGraceSec)
	}
	if c.LogQueueSize < 1 {
		return fmt.Errorf("SSE_LOG_QUEUE_MAX_SIZE must be at least 1, got %d", c.LogQueueSize)
	}

	if c.S3Endpoint != "" {
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3_ENDPOINT is set but S3_ACCESS_KEY or S3_SECRET_KEY is missing")
		}
	}
	return nil
}
