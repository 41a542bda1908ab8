// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	DB          DBConfig          `mapstructure:"db"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Driver      DriverConfig      `mapstructure:"driver"`
	AI          AIConfig          `mapstructure:"ai"`
	Search      SearchConfig      `mapstructure:"search"`
	Extract     ExtractConfig     `mapstructure:"extract"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig holds the shared secrets accepted by administrative endpoints.
type AuthConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	APIKey     string `mapstructure:"api_key"`
	CronSecret string `mapstructure:"cron_secret"`
}

// DBConfig controls access to the relational database.
// An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// WorkerConfig governs the per-job pipeline.
type WorkerConfig struct {
	StaleAfter          time.Duration `mapstructure:"stale_after"`
	MaxRetries          int           `mapstructure:"max_retries"`
	TopNExtract         int           `mapstructure:"top_n_extract"`
	SearchDepth         int           `mapstructure:"search_depth"`
	DefaultSources      []string      `mapstructure:"default_sources"`
	DefaultLanguage     string        `mapstructure:"default_language"`
	DefaultLocationCode int           `mapstructure:"default_location_code"`
	ArchivePrefix       string        `mapstructure:"archive_prefix"`
}

// DriverConfig controls the bounded step loops and the scheduler.
type DriverConfig struct {
	StepDelay       time.Duration `mapstructure:"step_delay"`
	Budget          time.Duration `mapstructure:"budget"`
	Concurrency     int           `mapstructure:"concurrency"`
	SchedulerTick   time.Duration `mapstructure:"scheduler_tick"`
	MaintenanceCron string        `mapstructure:"maintenance_cron"`
	Incremental     bool          `mapstructure:"incremental"`
}

// AIConfig configures the OpenAI-compatible client.
type AIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	CallDelay   time.Duration `mapstructure:"call_delay"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int64         `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SearchConfig configures the SERP provider client.
type SearchConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Login    string        `mapstructure:"login"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExtractConfig configures article extraction.
type ExtractConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxChars      int           `mapstructure:"max_chars"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	SkipDomains   []string      `mapstructure:"skip_domains"`
}

// ArchiveConfig selects where raw provider payloads are kept.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MaintenanceConfig sizes the maintenance agent batches.
type MaintenanceConfig struct {
	FilterBatchSize     int `mapstructure:"filter_batch_size"`
	NormalizerBatchSize int `mapstructure:"normalizer_batch_size"`
	BriefingTopThemes   int `mapstructure:"briefing_top_themes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONITOR")
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
	v.SetDefault("server.request_timeout", 10*time.Minute)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.cron_secret", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("worker.stale_after", 5*time.Minute)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.top_n_extract", 10)
	v.SetDefault("worker.search_depth", 20)
	v.SetDefault("worker.default_sources", []string{"organic", "news"})
	v.SetDefault("worker.default_language", "en")
	v.SetDefault("worker.default_location_code", 2840)
	v.SetDefault("worker.archive_prefix", "serp")
	v.SetDefault("driver.step_delay", 5*time.Second)
	v.SetDefault("driver.budget", 4*time.Minute)
	v.SetDefault("driver.concurrency", 1)
	v.SetDefault("driver.scheduler_tick", time.Minute)
	v.SetDefault("driver.maintenance_cron", "0 */6 * * *")
	v.SetDefault("driver.incremental", true)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.call_delay", 4*time.Second)
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.max_tokens", 4000)
	v.SetDefault("ai.timeout", 90*time.Second)
	v.SetDefault("search.base_url", "https://api.dataforseo.com")
	v.SetDefault("search.login", "")
	v.SetDefault("search.password", "")
	v.SetDefault("search.timeout", 60*time.Second)
	v.SetDefault("extract.user_agent", "brand-monitor-bot/0.1")
	v.SetDefault("extract.timeout", 15*time.Second)
	v.SetDefault("extract.max_chars", 6000)
	v.SetDefault("extract.respect_robots", false)
	v.SetDefault("extract.skip_domains", []string{"youtube.com", "*.facebook.com", "x.com", "twitter.com", "*.tiktok.com"})
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "scan-events")
	v.SetDefault("maintenance.filter_batch_size", 50)
	v.SetDefault("maintenance.normalizer_batch_size", 100)
	v.SetDefault("maintenance.briefing_top_themes", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" && c.Auth.CronSecret == "" {
		return fmt.Errorf("auth.api_key or auth.cron_secret must be set when auth is enabled")
	}
	if c.Worker.StaleAfter <= 0 {
		return fmt.Errorf("worker.stale_after must be > 0")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be >= 0")
	}
	if c.Worker.TopNExtract < 0 {
		return fmt.Errorf("worker.top_n_extract must be >= 0")
	}
	if c.Driver.Budget <= 0 {
		return fmt.Errorf("driver.budget must be > 0")
	}
	if c.Driver.StepDelay < 0 {
		return fmt.Errorf("driver.step_delay must be >= 0")
	}
	if c.Driver.Concurrency <= 0 {
		return fmt.Errorf("driver.concurrency must be > 0")
	}
	if c.AI.CallDelay <= 0 {
		return fmt.Errorf("ai.call_delay must be > 0")
	}
	if c.Maintenance.FilterBatchSize <= 0 {
		return fmt.Errorf("maintenance.filter_batch_size must be > 0")
	}
	if c.Maintenance.NormalizerBatchSize <= 0 || c.Maintenance.NormalizerBatchSize > 100 {
		return fmt.Errorf("maintenance.normalizer_batch_size must be in 1..100")
	}
	switch c.Archive.Backend {
	case "", "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	return nil
}
