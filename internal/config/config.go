// Package config loads and validates app config from env and an optional
// .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// BotToken is the Telegram Bot API token. Required.
	BotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	// DatabaseURL is the Postgres DSN; a path ending in .db selects sqlite
	// for local development. Required.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr enables the Redis conversation state store when set; empty
	// falls back to the in-memory store.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// HealthAddr is the liveness HTTP listen address.
	HealthAddr string `mapstructure:"HEALTH_ADDR"`
	// SessionDir is where per-account MTProto session files live.
	SessionDir string `mapstructure:"SESSION_DIR"`
	// PhonePrefixes lists country prefixes (comma-separated) that get a
	// leading + prepended during batch normalization.
	PhonePrefixes string `mapstructure:"PHONE_PREFIXES"`
	// ProbeSleepMin/Max bound the randomized pause between probes in a batch.
	ProbeSleepMin time.Duration `mapstructure:"PROBE_SLEEP_MIN"`
	ProbeSleepMax time.Duration `mapstructure:"PROBE_SLEEP_MAX"`
	// ConversationTTL is how long an idle user's phase tag survives.
	ConversationTTL time.Duration `mapstructure:"CONVERSATION_TTL"`
	// AuthFlowIdleTimeout bounds how long an abandoned login flow may hold a
	// live connection before the sweeper releases it.
	AuthFlowIdleTimeout time.Duration `mapstructure:"AUTH_FLOW_IDLE_TIMEOUT"`
	// PendingAuthTTL bounds how long an abandoned pending_auth row survives.
	PendingAuthTTL time.Duration `mapstructure:"PENDING_AUTH_TTL"`
	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`

	OTELExporterOTLPEndpoint  string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELExporterOTLPInsecure  bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName           string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTELEnvironment           string        `mapstructure:"OTEL_ENVIRONMENT"`
	OTELMetricsExportInterval time.Duration `mapstructure:"OTEL_METRICS_EXPORT_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("HEALTH_ADDR", ":3000")
	v.SetDefault("SESSION_DIR", "sessions")
	v.SetDefault("PHONE_PREFIXES", "38,7")
	v.SetDefault("PROBE_SLEEP_MIN", "1s")
	v.SetDefault("PROBE_SLEEP_MAX", "2500ms")
	v.SetDefault("CONVERSATION_TTL", "30m")
	v.SetDefault("AUTH_FLOW_IDLE_TIMEOUT", "15m")
	v.SetDefault("PENDING_AUTH_TTL", "24h")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("OTEL_SERVICE_NAME", "tgscan")
	v.SetDefault("OTEL_ENVIRONMENT", "development")
	v.SetDefault("OTEL_METRICS_EXPORT_INTERVAL", "30s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		recordConfigLoadEvent("error", "parse")
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		recordConfigLoadEvent("error", "validation")
		return nil, fmt.Errorf("validate config: %w", err)
	}
	recordConfigLoadEvent("success", "none")
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.BotToken) == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.ProbeSleepMin < 0 || c.ProbeSleepMax < c.ProbeSleepMin {
		errs = append(errs, errors.New("PROBE_SLEEP_MIN must be >= 0 and <= PROBE_SLEEP_MAX"))
	}
	if c.AuthFlowIdleTimeout <= 0 {
		errs = append(errs, errors.New("AUTH_FLOW_IDLE_TIMEOUT must be positive"))
	}
	if c.PendingAuthTTL <= 0 {
		errs = append(errs, errors.New("PENDING_AUTH_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// Prefixes returns the recognized country prefixes in declaration order.
func (c *Config) Prefixes() []string {
	parts := strings.Split(c.PhonePrefixes, ",")
	prefixes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

// OTELEnabled reports whether OTLP export is configured.
func (c *Config) OTELEnabled() bool {
	return strings.TrimSpace(c.OTELExporterOTLPEndpoint) != ""
}
