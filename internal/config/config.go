// Package config loads and validates capture service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Application ApplicationConfig         `mapstructure:"application"`
	Server      ServerConfig              `mapstructure:"server"`
	Auth        AuthConfig                `mapstructure:"auth"`
	Capture     CaptureConfig             `mapstructure:"capture"`
	Browser     BrowserConfig             `mapstructure:"browser"`
	Download    DownloadConfig            `mapstructure:"download"`
	Fallback    FallbackConfig            `mapstructure:"fallback"`
	Probe       ProbeConfig               `mapstructure:"probe"`
	Storage     StorageConfig             `mapstructure:"storage"`
	DB          DBConfig                  `mapstructure:"db"`
	PubSub      PubSubConfig              `mapstructure:"pubsub"`
	Logging     LoggingConfig             `mapstructure:"logging"`
	Profile     map[string]string         `mapstructure:"profile"`
	Platforms   map[string]PlatformConfig `mapstructure:"platforms"`
}

// ApplicationConfig identifies the service for telemetry.
type ApplicationConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CaptureConfig governs the worker pool and the per-job form loop.
type CaptureConfig struct {
	Concurrency       int      `mapstructure:"concurrency"`
	QueueDepth        int      `mapstructure:"queue_depth"`
	MaxFormSteps      int      `mapstructure:"max_form_steps"`
	JobTimeoutSeconds int      `mapstructure:"job_timeout_seconds"`
	SettleWaitMs      int      `mapstructure:"settle_wait_ms"`
	DenyHosts         []string `mapstructure:"deny_hosts"`
	PerHostRate       float64  `mapstructure:"per_host_rate"`
	PerHostBurst      int      `mapstructure:"per_host_burst"`
	RetryAttempts     int      `mapstructure:"retry_attempts"`
}

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	DownloadDir    string `mapstructure:"download_dir"`
	MaxParallel    int    `mapstructure:"max_parallel"`
	ExecPath       string `mapstructure:"exec_path"`
	WindowWidth    int    `mapstructure:"window_width"`
	WindowHeight   int    `mapstructure:"window_height"`
	DisableSandbox bool   `mapstructure:"disable_sandbox"`
}

// DownloadConfig tunes the dual-channel download watcher and staging.
type DownloadConfig struct {
	AppearTimeoutSec int    `mapstructure:"appear_timeout_seconds"`
	StableTimeoutSec int    `mapstructure:"stable_timeout_seconds"`
	PollIntervalMs   int    `mapstructure:"poll_interval_ms"`
	StablePolls      int    `mapstructure:"stable_polls"`
	StagingDir       string `mapstructure:"staging_dir"`
}

// FallbackConfig gates the assisted escalation path.
type FallbackConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	MaxSteps          int      `mapstructure:"max_steps"`
	AssistTimeoutSec  int      `mapstructure:"assist_timeout_seconds"`
	Model             string   `mapstructure:"model"`
	EnabledHosts      []string `mapstructure:"enabled_hosts"`
	ArtifactsDir      string   `mapstructure:"artifacts_dir"`
	MaxTokensPerStep  int      `mapstructure:"max_tokens_per_step"`
	InstructionPrefix string   `mapstructure:"instruction_prefix"`
}

// ProbeConfig configures the pre-flight portal probe.
type ProbeConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// StorageConfig selects and tunes the blob backend for republish.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational metadata store. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion-event publishing and, when the
// queue fields are set, for the durable job queue.
type PubSubConfig struct {
	ProjectID         string `mapstructure:"project_id"`
	TopicName         string `mapstructure:"topic_name"`
	QueueTopic        string `mapstructure:"queue_topic"`
	QueueSubscription string `mapstructure:"queue_subscription"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// PlatformConfig is one deal-room vendor's per-host tuning, keyed by host.
type PlatformConfig struct {
	SelectorOverrides map[string]string `mapstructure:"selector_overrides"`
	SubmitSelector    string            `mapstructure:"submit_selector"`
	DownloadSelector  string            `mapstructure:"download_selector"`
	DownloadDir       string            `mapstructure:"download_dir"`
	ConsentPatterns   []string          `mapstructure:"consent_patterns"`
	FallbackEnabled   bool              `mapstructure:"fallback_enabled"`
	MaxFormSteps      int               `mapstructure:"max_form_steps"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAPTURED")
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
	v.SetDefault("application.service_name", "dealroom-capture")
	v.SetDefault("application.version", "dev")
	v.SetDefault("server.port", 8080)
	v.SetDefault("capture.concurrency", 2)
	v.SetDefault("capture.queue_depth", 64)
	v.SetDefault("capture.max_form_steps", 5)
	v.SetDefault("capture.job_timeout_seconds", 600)
	v.SetDefault("capture.settle_wait_ms", 1500)
	v.SetDefault("capture.per_host_rate", 0.5)
	v.SetDefault("capture.per_host_burst", 1)
	v.SetDefault("capture.retry_attempts", 1)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.download_dir", "data/downloads")
	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.window_width", 1440)
	v.SetDefault("browser.window_height", 1024)
	v.SetDefault("download.appear_timeout_seconds", 30)
	v.SetDefault("download.stable_timeout_seconds", 120)
	v.SetDefault("download.poll_interval_ms", 500)
	v.SetDefault("download.stable_polls", 3)
	v.SetDefault("download.staging_dir", "data/staging")
	v.SetDefault("fallback.enabled", false)
	v.SetDefault("fallback.max_steps", 3)
	v.SetDefault("fallback.assist_timeout_seconds", 45)
	v.SetDefault("fallback.model", "claude-sonnet-4-5")
	v.SetDefault("fallback.artifacts_dir", "data/artifacts")
	v.SetDefault("fallback.max_tokens_per_step", 2048)
	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.timeout_seconds", 15)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data/blobs")
	v.SetDefault("storage.prefix", "documents")
	v.SetDefault("storage.content_type", "application/octet-stream")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Capture.Concurrency <= 0 {
		return fmt.Errorf("capture.concurrency must be > 0")
	}
	if c.Capture.MaxFormSteps <= 0 {
		return fmt.Errorf("capture.max_form_steps must be > 0")
	}
	if c.Capture.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("capture.job_timeout_seconds must be > 0")
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	if c.Fallback.Enabled && c.Fallback.MaxSteps <= 0 {
		return fmt.Errorf("fallback.max_steps must be > 0 when fallback is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs")
	}
	return nil
}

// JobTimeout returns the per-job wall clock budget.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Capture.JobTimeoutSeconds) * time.Second
}

// SettleWait returns the post-advance settle duration.
func (c Config) SettleWait() time.Duration {
	return time.Duration(c.Capture.SettleWaitMs) * time.Millisecond
}
