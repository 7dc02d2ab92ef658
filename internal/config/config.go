// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/candidate-discovery/internal/extractor"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls trace sampling.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// DiscoveryConfig governs task scheduling and request limits.
type DiscoveryConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	QueueDepth         int `mapstructure:"queue_depth"`
	MaxResultsDefault  int `mapstructure:"max_results_default"`
	MaxResultsCeiling  int `mapstructure:"max_results_ceiling"`
	MaxPages           int `mapstructure:"max_pages"`
	SyncTimeoutSeconds int `mapstructure:"sync_timeout_seconds"`
	ReservationBatch   int `mapstructure:"reservation_batch"`
}

// QuotaConfig holds the daily ceilings.
type QuotaConfig struct {
	ProfilesPerDay int    `mapstructure:"profiles_per_day"`
	MessagesPerDay int    `mapstructure:"messages_per_day"`
	Timezone       string `mapstructure:"timezone"`
}

// NavigationConfig configures the browser and pacing.
type NavigationConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	DelayMs           int     `mapstructure:"delay_ms"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	Headless          bool    `mapstructure:"headless"`
	UserAgent         string  `mapstructure:"user_agent"`
	ProxyURL          string  `mapstructure:"proxy_url"`
	MaxParallel       int     `mapstructure:"max_parallel"`
	MaxRPS            float64 `mapstructure:"max_rps"`
	Burst             int     `mapstructure:"burst"`
}

// RetryConfig configures transient failure handling.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// ExtractorConfig overrides card selectors. Empty fields keep the defaults.
type ExtractorConfig struct {
	Selectors extractor.Selectors `mapstructure:"selectors"`
}

// RegistryConfig controls task retention and the Redis mirror.
type RegistryConfig struct {
	RetentionHours int    `mapstructure:"retention_hours"`
	PruneSchedule  string `mapstructure:"prune_schedule"`
	RedisURL       string `mapstructure:"redis_url"`
	RedisTTLHours  int    `mapstructure:"redis_ttl_hours"`
	MirrorBuffer   int    `mapstructure:"mirror_buffer"`
	MirrorFlushMs  int    `mapstructure:"mirror_flush_ms"`
}

// StorageConfig selects where archived pages go.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	BaseDir        string `mapstructure:"base_dir"`
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	CandidateLimit int    `mapstructure:"candidate_limit"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	CandidatesTable string `mapstructure:"candidates_table"`
	TasksTable      string `mapstructure:"tasks_table"`
	QuotaTable      string `mapstructure:"quota_table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DISCOVERY")
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
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "discoveryd")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("discovery.concurrency", 2)
	v.SetDefault("discovery.queue_depth", 64)
	v.SetDefault("discovery.max_results_default", 20)
	v.SetDefault("discovery.max_results_ceiling", 100)
	v.SetDefault("discovery.max_pages", 10)
	v.SetDefault("discovery.sync_timeout_seconds", 300)
	v.SetDefault("discovery.reservation_batch", 10)
	v.SetDefault("quota.profiles_per_day", 100)
	v.SetDefault("quota.messages_per_day", 20)
	v.SetDefault("quota.timezone", "UTC")
	v.SetDefault("navigation.base_url", "https://www.linkedin.com/search/results/people/")
	v.SetDefault("navigation.delay_ms", 2500)
	v.SetDefault("navigation.nav_timeout_seconds", 45)
	v.SetDefault("navigation.headless", true)
	v.SetDefault("navigation.user_agent", "")
	v.SetDefault("navigation.proxy_url", "")
	v.SetDefault("navigation.max_parallel", 2)
	v.SetDefault("navigation.max_rps", 0.3)
	v.SetDefault("navigation.burst", 1)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_initial_ms", 2000)
	v.SetDefault("retry.backoff_max_ms", 30000)
	v.SetDefault("registry.retention_hours", 24)
	v.SetDefault("registry.prune_schedule", "@every 10m")
	v.SetDefault("registry.redis_url", "")
	v.SetDefault("registry.redis_ttl_hours", 24)
	v.SetDefault("registry.mirror_buffer", 1024)
	v.SetDefault("registry.mirror_flush_ms", 250)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "./data/pages")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "discovery")
	v.SetDefault("storage.candidate_limit", 10000)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.candidates_table", "candidates")
	v.SetDefault("db.tasks_table", "discovery_tasks")
	v.SetDefault("db.quota_table", "quota_usage")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "discovery-task-events")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Discovery.Concurrency <= 0 {
		return fmt.Errorf("discovery.concurrency must be > 0")
	}
	if c.Discovery.QueueDepth <= 0 {
		return fmt.Errorf("discovery.queue_depth must be > 0")
	}
	if c.Discovery.MaxResultsCeiling <= 0 {
		return fmt.Errorf("discovery.max_results_ceiling must be > 0")
	}
	if c.Discovery.MaxResultsDefault <= 0 || c.Discovery.MaxResultsDefault > c.Discovery.MaxResultsCeiling {
		return fmt.Errorf("discovery.max_results_default must be between 1 and max_results_ceiling")
	}
	if c.Discovery.MaxPages <= 0 {
		return fmt.Errorf("discovery.max_pages must be > 0")
	}
	if c.Quota.ProfilesPerDay < 0 || c.Quota.MessagesPerDay < 0 {
		return fmt.Errorf("quota ceilings must be >= 0")
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return fmt.Errorf("quota.timezone: %w", err)
	}
	if c.Navigation.DelayMs < 0 {
		return fmt.Errorf("navigation.delay_ms must be >= 0")
	}
	if c.Navigation.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("navigation.nav_timeout_seconds must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Storage.CandidateLimit <= 0 {
		return fmt.Errorf("storage.candidate_limit must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be one of memory, local, gcs", c.Storage.Backend)
	}
	return nil
}

// NavigationDelay returns the pause taken before every navigation.
func (c Config) NavigationDelay() time.Duration {
	return time.Duration(c.Navigation.DelayMs) * time.Millisecond
}

// NavigationTimeout bounds a single page load.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Navigation.NavTimeoutSeconds) * time.Second
}

// SyncTimeout bounds a synchronous search request.
func (c Config) SyncTimeout() time.Duration {
	return time.Duration(c.Discovery.SyncTimeoutSeconds) * time.Second
}

// Retention is how long terminal tasks stay in memory.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Registry.RetentionHours) * time.Hour
}

// Location returns the time zone that defines quota days.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
