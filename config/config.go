// Package config loads and validates the Argus service configuration.
//
// Configuration is a structured object supplied at construction: components
// receive the sections they need and never read settings ad hoc
// mid-operation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AlertsConfig configures the alert manager
type AlertsConfig struct {
	// RulesFile optionally points at a YAML file of alert rules loaded at startup
	RulesFile string `mapstructure:"rules_file"`

	SuppressionEnabled bool          `mapstructure:"suppression_enabled"`
	SuppressionWindow  time.Duration `mapstructure:"suppression_window" validate:"min=0"`
	DefaultCooldown    time.Duration `mapstructure:"default_cooldown" validate:"min=0"`

	EscalationSweepInterval time.Duration `mapstructure:"escalation_sweep_interval" validate:"gt=0"`
	MaxEscalations          int           `mapstructure:"max_escalations" validate:"min=0"`

	// CrisisEnabled turns on the crisis bypass path
	CrisisEnabled  bool     `mapstructure:"crisis_enabled"`
	CrisisChannels []string `mapstructure:"crisis_channels"`

	// ResolvedRetention is how long resolved alerts stay queryable before GC
	ResolvedRetention time.Duration `mapstructure:"resolved_retention" validate:"min=0"`
}

// ErrorsConfig configures the error tracker
type ErrorsConfig struct {
	// SampleRate in (0,1]: probability a capture is kept
	SampleRate float64 `mapstructure:"sample_rate" validate:"gt=0,lte=1"`

	MaxBreadcrumbs   int           `mapstructure:"max_breadcrumbs" validate:"gt=0"`
	BreadcrumbMaxAge time.Duration `mapstructure:"breadcrumb_max_age" validate:"gt=0"`
	MaxGroupSamples  int           `mapstructure:"max_group_samples" validate:"gt=0"`

	RetentionDays   int           `mapstructure:"retention_days" validate:"gt=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`

	// Rate alert: errors per RateWindow above RateThreshold
	RateWindow    time.Duration `mapstructure:"rate_window" validate:"gt=0"`
	RateThreshold int           `mapstructure:"rate_threshold" validate:"gt=0"`

	// Spike alert: SpikeMinOccurrences of one fingerprint within RateWindow
	// once the group total reaches SpikeMinGroupTotal
	SpikeMinOccurrences int `mapstructure:"spike_min_occurrences" validate:"gt=0"`
	SpikeMinGroupTotal  int `mapstructure:"spike_min_group_total" validate:"gt=0"`

	// Ignore filters
	IgnoreMessages  []string `mapstructure:"ignore_messages"`
	IgnorePatterns  []string `mapstructure:"ignore_patterns"`
	DenyComponents  []string `mapstructure:"deny_components"`
	AllowComponents []string `mapstructure:"allow_components"`
	DenyURLs        []string `mapstructure:"deny_urls"`
	AllowURLs       []string `mapstructure:"allow_urls"`
}

// AuditConfig configures the audit trail service
type AuditConfig struct {
	EncryptionEnabled bool `mapstructure:"encryption_enabled"`

	// KeySource selects where the field-encryption key comes from:
	// env, vault or aws
	KeySource string `mapstructure:"key_source" validate:"oneof=env vault aws"`

	Vault struct {
		Address string `mapstructure:"address"`
		Token   string `mapstructure:"token"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"vault"`

	AWS struct {
		Region   string `mapstructure:"region"`
		SecretID string `mapstructure:"secret_id"`
	} `mapstructure:"aws"`

	// SensitiveFields are redacted from free-form detail payloads
	SensitiveFields []string `mapstructure:"sensitive_fields"`

	BatchSize     int           `mapstructure:"batch_size" validate:"gt=0"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gt=0"`

	// RetentionDays is the compliance retention period (multi-year)
	RetentionDays int           `mapstructure:"retention_days" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`

	// Compliance detector
	FailedLoginThreshold int           `mapstructure:"failed_login_threshold" validate:"gt=0"`
	FailedLoginWindow    time.Duration `mapstructure:"failed_login_window" validate:"gt=0"`
	DetectorInterval     time.Duration `mapstructure:"detector_interval" validate:"gt=0"`
}

// HealthConfig configures the health check service
type HealthConfig struct {
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
	CheckInterval time.Duration `mapstructure:"check_interval" validate:"gt=0"`
}

// Thresholds holds the numeric operating thresholds fed to health probes
// and rate alerts
type Thresholds struct {
	MemoryPercent  float64 `mapstructure:"memory_percent" validate:"min=0,max=100"`
	CPUPercent     float64 `mapstructure:"cpu_percent" validate:"min=0,max=100"`
	ResponseTimeMs float64 `mapstructure:"response_time_ms" validate:"min=0"`
	ErrorRate      float64 `mapstructure:"error_rate" validate:"min=0"`
}

// ChannelConfig configures one notification channel
type ChannelConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	Type    string `mapstructure:"type" validate:"oneof=email slack webhook sms"`
	Enabled bool   `mapstructure:"enabled"`

	// Email
	SMTPHost     string   `mapstructure:"smtp_host"`
	SMTPPort     int      `mapstructure:"smtp_port"`
	SMTPUsername string   `mapstructure:"smtp_username"`
	SMTPPassword string   `mapstructure:"smtp_password"`
	FromAddress  string   `mapstructure:"from_address"`
	ToAddresses  []string `mapstructure:"to_addresses"`

	// Webhook / Slack / SMS gateway
	WebhookURL     string            `mapstructure:"webhook_url"`
	WebhookMethod  string            `mapstructure:"webhook_method"`
	WebhookHeaders map[string]string `mapstructure:"webhook_headers"`

	// SMS
	PhoneNumbers []string `mapstructure:"phone_numbers"`

	// Filtering and throttling
	MinSeverity string  `mapstructure:"min_severity"`
	RatePerMin  float64 `mapstructure:"rate_per_min"`
}

// StorageConfig selects the pluggable store backends
type StorageConfig struct {
	// Backend is the primary store: memory or sqlite
	Backend    string `mapstructure:"backend" validate:"oneof=memory sqlite"`
	SQLitePath string `mapstructure:"sqlite_path"`

	Mongo struct {
		Enabled  bool   `mapstructure:"enabled"`
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	ClickHouse struct {
		Enabled  bool     `mapstructure:"enabled"`
		Addrs    []string `mapstructure:"addrs"`
		Database string   `mapstructure:"database"`
		Username string   `mapstructure:"username"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"clickhouse"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`
}

// Config holds all configuration for the Argus service
type Config struct {
	Alerts     AlertsConfig    `mapstructure:"alerts"`
	Errors     ErrorsConfig    `mapstructure:"errors"`
	Audit      AuditConfig     `mapstructure:"audit"`
	Health     HealthConfig    `mapstructure:"health"`
	Thresholds Thresholds      `mapstructure:"thresholds"`
	Channels   []ChannelConfig `mapstructure:"channels" validate:"dive"`
	Storage    StorageConfig   `mapstructure:"storage"`
}

func setDefaults() {
	viper.SetDefault("alerts.suppression_enabled", true)
	viper.SetDefault("alerts.suppression_window", 5*time.Minute)
	viper.SetDefault("alerts.default_cooldown", 5*time.Minute)
	viper.SetDefault("alerts.escalation_sweep_interval", time.Second)
	viper.SetDefault("alerts.max_escalations", 0)
	viper.SetDefault("alerts.crisis_enabled", true)
	viper.SetDefault("alerts.resolved_retention", 24*time.Hour)

	viper.SetDefault("errors.sample_rate", 1.0)
	viper.SetDefault("errors.max_breadcrumbs", 50)
	viper.SetDefault("errors.breadcrumb_max_age", time.Hour)
	viper.SetDefault("errors.max_group_samples", 100)
	viper.SetDefault("errors.retention_days", 30)
	viper.SetDefault("errors.cleanup_interval", time.Hour)
	viper.SetDefault("errors.rate_window", 5*time.Minute)
	viper.SetDefault("errors.rate_threshold", 50)
	viper.SetDefault("errors.spike_min_occurrences", 5)
	viper.SetDefault("errors.spike_min_group_total", 10)

	viper.SetDefault("audit.encryption_enabled", true)
	viper.SetDefault("audit.key_source", "env")
	viper.SetDefault("audit.sensitive_fields", []string{
		"password", "token", "secret", "ssn", "diagnosis", "notes",
	})
	viper.SetDefault("audit.batch_size", 50)
	viper.SetDefault("audit.flush_interval", 10*time.Second)
	viper.SetDefault("audit.retention_days", 2555) // seven years
	viper.SetDefault("audit.sweep_interval", 24*time.Hour)
	viper.SetDefault("audit.failed_login_threshold", 5)
	viper.SetDefault("audit.failed_login_window", 15*time.Minute)
	viper.SetDefault("audit.detector_interval", time.Minute)

	viper.SetDefault("health.probe_timeout", 5*time.Second)
	viper.SetDefault("health.check_interval", 30*time.Second)

	viper.SetDefault("thresholds.memory_percent", 90)
	viper.SetDefault("thresholds.cpu_percent", 90)
	viper.SetDefault("thresholds.response_time_ms", 2000)
	viper.SetDefault("thresholds.error_rate", 10)

	viper.SetDefault("storage.backend", "memory")
	viper.SetDefault("storage.sqlite_path", "./data/argus.db")
}

// LoadConfig reads configuration from argus.yaml (working directory or
// /etc/argus), with ARGUS_-prefixed environment overrides, and validates it
func LoadConfig() (*Config, error) {
	viper.SetConfigName("argus")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/argus")

	viper.SetEnvPrefix("ARGUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine: defaults plus env vars apply
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
