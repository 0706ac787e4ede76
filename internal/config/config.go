// Package config loads and validates ingestion service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Robots    RobotsConfig    `mapstructure:"robots"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Financial FinancialConfig `mapstructure:"financial"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retention RetentionConfig `mapstructure:"retention"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Events    EventsConfig    `mapstructure:"events"`
	Seed      SeedConfig      `mapstructure:"seed"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the control-surface HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and optional file rotation.
type LoggingConfig struct {
	Development bool          `mapstructure:"development"`
	File        LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables a rotated log file alongside stderr.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// HTTPConfig configures the retrying page fetcher.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	RetryDelayMs   int    `mapstructure:"retry_delay_ms"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// RobotsConfig configures robots.txt retrieval and defaults.
type RobotsConfig struct {
	UserAgent                 string        `mapstructure:"user_agent"`
	CacheTTL                  time.Duration `mapstructure:"cache_ttl"`
	TimeoutSeconds            int           `mapstructure:"timeout_seconds"`
	FallbackCrawlDelaySeconds float64       `mapstructure:"fallback_crawl_delay_seconds"`
	DefaultCrawlDelaySeconds  float64       `mapstructure:"default_crawl_delay_seconds"`
}

// FeedConfig configures RSS/Atom retrieval.
type FeedConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ScraperConfig governs the HTML scraping engine.
type ScraperConfig struct {
	ConcurrencyPerDomain int           `mapstructure:"concurrency_per_domain"`
	BatchPauseMs         int           `mapstructure:"batch_pause_ms"`
	ArticlePauseMs       int           `mapstructure:"article_pause_ms"`
	CategoryPauseMs      int           `mapstructure:"category_pause_ms"`
	MaxArticles          int           `mapstructure:"max_articles"`
	SitesFile            string        `mapstructure:"sites_file"`
	Archive              ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig toggles raw HTML archiving of scraped detail pages.
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ContentType string `mapstructure:"content_type"`
}

// HeadlessConfig configures the optional headless renderer.
type HeadlessConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	MaxParallel      int  `mapstructure:"max_parallel"`
	NavTimeoutSec    int  `mapstructure:"nav_timeout_seconds"`
	Promote          bool `mapstructure:"promote"`
	PromoteThreshold int  `mapstructure:"promote_threshold_bytes"`
}

// FinancialConfig configures the central bank rate fetcher.
type FinancialConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	GoldURL        string        `mapstructure:"gold_url"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
}

// SchedulerConfig sets job cadences.
type SchedulerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Tick                time.Duration `mapstructure:"tick"`
	Warmup              time.Duration `mapstructure:"warmup"`
	RSSInterval         time.Duration `mapstructure:"rss_interval"`
	FinancialInterval   time.Duration `mapstructure:"financial_interval"`
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
	Timezone            string        `mapstructure:"timezone"`
}

// RetentionConfig bounds article lifetime.
type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

// StorageConfig selects the relational store.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
}

// BlobConfig selects where archived HTML goes.
type BlobConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// EventsConfig selects the article event publisher.
type EventsConfig struct {
	Backend      string   `mapstructure:"backend"`
	Topic        string   `mapstructure:"topic"`
	ProjectID    string   `mapstructure:"project_id"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
}

// SeedConfig points at the YAML source registry used by the seed command.
type SeedConfig struct {
	SourcesFile string `mapstructure:"sources_file"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESMIHABER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("http.user_agent", "TurkiyeResmiHaber-Bot/1.0 (+https://turkiyeresmihaber.com/robots)")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_delay_ms", 2000)
	v.SetDefault("http.max_body_bytes", 1024*1024)
	v.SetDefault("robots.user_agent", "TurkiyeResmiHaber-Bot/1.0 (+https://turkiyeresmihaber.com/robots)")
	v.SetDefault("robots.cache_ttl", "24h")
	v.SetDefault("robots.timeout_seconds", 10)
	v.SetDefault("robots.fallback_crawl_delay_seconds", 5)
	v.SetDefault("robots.default_crawl_delay_seconds", 1)
	v.SetDefault("feed.user_agent", "Turkiye-Resmi-Haber-Bot/1.0 (+https://turkiyeresmihaber.com)")
	v.SetDefault("feed.timeout_seconds", 30)
	v.SetDefault("scraper.concurrency_per_domain", 2)
	v.SetDefault("scraper.batch_pause_ms", 1000)
	v.SetDefault("scraper.article_pause_ms", 1500)
	v.SetDefault("scraper.category_pause_ms", 2000)
	v.SetDefault("scraper.max_articles", 10)
	v.SetDefault("scraper.archive.enabled", false)
	v.SetDefault("scraper.archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promote", true)
	v.SetDefault("headless.promote_threshold_bytes", 2048)
	v.SetDefault("financial.base_url", "https://www.tcmb.gov.tr/kurlar")
	v.SetDefault("financial.cache_ttl", "5m")
	v.SetDefault("financial.timeout_seconds", 10)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick", "30s")
	v.SetDefault("scheduler.warmup", "5s")
	v.SetDefault("scheduler.rss_interval", "30m")
	v.SetDefault("scheduler.financial_interval", "1h")
	v.SetDefault("scheduler.cleanup_interval", "24h")
	v.SetDefault("scheduler.maintenance_interval", "1h")
	v.SetDefault("scheduler.timezone", "Europe/Istanbul")
	v.SetDefault("retention.days", 90)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite_path", "data/resmihaber.db")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("blob.backend", "memory")
	v.SetDefault("blob.base_dir", "data/archive")
	v.SetDefault("blob.prefix", "pages")
	v.SetDefault("events.backend", "none")
	v.SetDefault("events.topic", "articles.created")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "resmihaber")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if !strings.Contains(c.HTTP.UserAgent, "http") {
		return fmt.Errorf("http.user_agent must include a contact URL")
	}
	if c.Scraper.ConcurrencyPerDomain <= 0 {
		return fmt.Errorf("scraper.concurrency_per_domain must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Scheduler.Enabled && c.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be > 0")
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Blob.Backend {
	case "memory", "local":
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("blob.backend %q is not supported", c.Blob.Backend)
	}
	switch c.Events.Backend {
	case "none", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set for pubsub")
		}
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 || c.Events.Topic == "" {
			return fmt.Errorf("events.kafka_brokers and events.topic must be set for kafka")
		}
	default:
		return fmt.Errorf("events.backend %q is not supported", c.Events.Backend)
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Location resolves the scheduler timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
