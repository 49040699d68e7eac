// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
)

// Queue backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Generation providers.
const (
	ProviderTemplate = "template"
	ProviderOpenAI   = "openai"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Auth       AuthConfig        `mapstructure:"auth"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	DB         DBConfig          `mapstructure:"db"`
	Queue      QueueConfig       `mapstructure:"queue"`
	Worker     WorkerConfig      `mapstructure:"worker"`
	Schedules  map[string]string `mapstructure:"schedules"`
	Generation GenerationConfig  `mapstructure:"generation"`
	Publishing PublishingConfig  `mapstructure:"publishing"`
	Analytics  AnalyticsConfig   `mapstructure:"analytics"`
	Storage    StorageConfig     `mapstructure:"storage"`
	PubSub     PubSubConfig      `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	MigrateOnStart         bool   `mapstructure:"migrate_on_start"`
}

// QueueConfig selects and tunes the job queue.
type QueueConfig struct {
	Backend        string         `mapstructure:"backend"`
	LeaseSeconds   int            `mapstructure:"lease_seconds"`
	PollIntervalMs int            `mapstructure:"poll_interval_ms"`
	Concurrency    map[string]int `mapstructure:"concurrency"`
}

// WorkerConfig bounds job attempts.
type WorkerConfig struct {
	TimeoutSeconds      int `mapstructure:"timeout_seconds"`
	ErrorBackoffSeconds int `mapstructure:"error_backoff_seconds"`
}

// GenerationConfig selects the article generator.
type GenerationConfig struct {
	Provider       string `mapstructure:"provider"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OAuthAppConfig is one platform's OAuth client registration.
type OAuthAppConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
}

// PublishingConfig tunes outbound platform calls.
type PublishingConfig struct {
	TimeoutSeconds       int                       `mapstructure:"timeout_seconds"`
	RateLimitRPS         float64                   `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int                       `mapstructure:"rate_limit_burst"`
	RefreshLeewaySeconds int                       `mapstructure:"refresh_leeway_seconds"`
	HookTimeoutSeconds   int                       `mapstructure:"hook_timeout_seconds"`
	OAuth                map[string]OAuthAppConfig `mapstructure:"oauth"`
}

// AnalyticsConfig configures the liveness prober.
type AnalyticsConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig sets where raw drafts are archived. With neither a bucket nor
// a local directory drafts stay in memory.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// topic keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANKYAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
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
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.lease_seconds", int(queue.DefaultLease/time.Second))
	v.SetDefault("queue.poll_interval_ms", 1000)
	v.SetDefault("queue.concurrency.generation", 3)
	v.SetDefault("queue.concurrency.publishing", 5)
	v.SetDefault("queue.concurrency.analytics", 2)
	v.SetDefault("queue.concurrency.sweeps", 1)
	v.SetDefault("worker.timeout_seconds", 300)
	v.SetDefault("worker.error_backoff_seconds", 1)
	v.SetDefault("schedules.daily-generation", "0 6 * * *")
	v.SetDefault("schedules.publish-sweep", "*/5 * * * *")
	v.SetDefault("schedules.analytics-sync", "0 2 * * *")
	v.SetDefault("generation.provider", ProviderTemplate)
	v.SetDefault("generation.base_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("generation.model", "gpt-4o-mini")
	v.SetDefault("generation.timeout_seconds", 120)
	v.SetDefault("publishing.timeout_seconds", 30)
	v.SetDefault("publishing.rate_limit_rps", 2.0)
	v.SetDefault("publishing.rate_limit_burst", 4)
	v.SetDefault("publishing.refresh_leeway_seconds", 60)
	v.SetDefault("publishing.hook_timeout_seconds", 60)
	v.SetDefault("analytics.user_agent", "rankyak-analytics/1.0")
	v.SetDefault("analytics.timeout_seconds", 15)
	v.SetDefault("storage.prefix", "rankyak")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Queue.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres queue backend")
		}
	default:
		return fmt.Errorf("queue.backend must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Queue.Backend)
	}
	for name, n := range c.Queue.Concurrency {
		if n <= 0 {
			return fmt.Errorf("queue.concurrency.%s must be > 0", name)
		}
	}
	if c.Worker.TimeoutSeconds <= 0 {
		return fmt.Errorf("worker.timeout_seconds must be > 0")
	}
	for name, pattern := range c.Schedules {
		if _, err := queue.NextOccurrence(pattern, time.Now()); err != nil {
			return fmt.Errorf("schedules.%s: %w", name, err)
		}
	}
	switch c.Generation.Provider {
	case ProviderTemplate:
	case ProviderOpenAI:
		if c.Generation.APIKey == "" {
			return fmt.Errorf("generation.api_key must be set for the openai provider")
		}
	default:
		return fmt.Errorf("generation.provider must be %q or %q, got %q", ProviderTemplate, ProviderOpenAI, c.Generation.Provider)
	}
	if c.Publishing.TimeoutSeconds <= 0 {
		return fmt.Errorf("publishing.timeout_seconds must be > 0")
	}
	for platform, app := range c.Publishing.OAuth {
		if app.ClientID == "" || app.TokenURL == "" {
			return fmt.Errorf("publishing.oauth.%s needs client_id and token_url", platform)
		}
	}
	if c.Storage.GCSBucket != "" && c.Storage.LocalDir != "" {
		return fmt.Errorf("storage.gcs_bucket and storage.local_dir are mutually exclusive")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Seconds converts a whole-second knob into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// WorkerTimeout is the per-attempt budget.
func (c Config) WorkerTimeout() time.Duration {
	return Seconds(c.Worker.TimeoutSeconds)
}
