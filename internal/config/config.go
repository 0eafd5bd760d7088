// Copyright 2025 James Ross
// Package config loads and validates the dispatcher's configuration
// surface, per spec §6.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dispatcher holds the options named explicitly by spec §6's configuration
// surface.
type Dispatcher struct {
	DatabaseURL            string        `mapstructure:"database_url"`
	Scope                  string        `mapstructure:"scope"`
	WorkerID               string        `mapstructure:"worker_id"`
	Concurrent             int           `mapstructure:"concurrent"`
	ConnectTimeout         time.Duration `mapstructure:"connect_timeout_s"`
	Timeout                time.Duration `mapstructure:"timeout_s"`
	MaxFastRetries         int           `mapstructure:"max_fast_retries"`
	MaxSlowRetries         int           `mapstructure:"max_slow_retries"`
	OrphanReclaimHorizon   time.Duration `mapstructure:"orphan_reclaim_horizon_s"`
	MonitoringHeartbeatURL string        `mapstructure:"monitoring_heartbeat_url"`
	AutoDisableThreshold   int           `mapstructure:"auto_disable_threshold"`
}

// Redis configures the optional wake-channel pub/sub connection. A dispatcher
// with an empty Addr runs without one, falling back entirely to its
// adaptive-backoff poll.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Notify configures the optional NATS fan-out used to announce give-ups and
// auto-disables to ops tooling. An empty URL disables it.
type Notify struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

// CircuitBreaker configures the per-target-host breaker registry shared by
// every worker goroutine in this dispatcher process.
type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
	Insecure         bool    `mapstructure:"insecure"`
}

type ObservabilityConfig struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// Archive configures the optional ClickHouse cold-path export of terminal
// request_attempt rows. Disabled when DSN is empty.
type Archive struct {
	DSN              string        `mapstructure:"dsn"`
	Database         string        `mapstructure:"database"`
	Table            string        `mapstructure:"table"`
	RetentionHorizon time.Duration `mapstructure:"retention_horizon_s"`
	BatchSize        int           `mapstructure:"batch_size"`
	Interval         time.Duration `mapstructure:"interval_s"`
}

type Config struct {
	Dispatcher     Dispatcher          `mapstructure:"dispatcher"`
	Redis          Redis               `mapstructure:"redis"`
	Notify         Notify              `mapstructure:"notify"`
	CircuitBreaker CircuitBreaker      `mapstructure:"circuit_breaker"`
	Observability  ObservabilityConfig `mapstructure:"observability"`
	Archive        Archive             `mapstructure:"archive"`
}

func defaultConfig() *Config {
	return &Config{
		Dispatcher: Dispatcher{
			Scope:                "public",
			Concurrent:           10,
			ConnectTimeout:       5 * time.Second,
			Timeout:              15 * time.Second,
			MaxFastRetries:       3,
			MaxSlowRetries:       5,
			OrphanReclaimHorizon: 10 * time.Minute,
			AutoDisableThreshold: 20,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		Observability: ObservabilityConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     TracingConfig{Enabled: false},
		},
		Notify: Notify{
			Subject: "hook0.dispatch.giveup",
		},
		Archive: Archive{
			Database:         "hook0",
			Table:            "delivery_attempts",
			RetentionHorizon: 30 * 24 * time.Hour,
			BatchSize:        500,
			Interval:         10 * time.Minute,
		},
	}
}

// Load reads configuration from a YAML file (if present) with environment
// overrides, and returns an error if the result fails Validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("hook0")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("dispatcher.scope", def.Dispatcher.Scope)
	v.SetDefault("dispatcher.concurrent", def.Dispatcher.Concurrent)
	v.SetDefault("dispatcher.connect_timeout_s", def.Dispatcher.ConnectTimeout)
	v.SetDefault("dispatcher.timeout_s", def.Dispatcher.Timeout)
	v.SetDefault("dispatcher.max_fast_retries", def.Dispatcher.MaxFastRetries)
	v.SetDefault("dispatcher.max_slow_retries", def.Dispatcher.MaxSlowRetries)
	v.SetDefault("dispatcher.orphan_reclaim_horizon_s", def.Dispatcher.OrphanReclaimHorizon)
	v.SetDefault("dispatcher.auto_disable_threshold", def.Dispatcher.AutoDisableThreshold)
	// Keys with no default are registered too: Unmarshal only sees keys viper
	// already knows, so without this AutomaticEnv could not override them.
	v.SetDefault("dispatcher.database_url", "")
	v.SetDefault("dispatcher.worker_id", "")
	v.SetDefault("dispatcher.monitoring_heartbeat_url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("notify.nats_url", "")
	v.SetDefault("archive.dsn", "")

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)

	v.SetDefault("notify.subject", def.Notify.Subject)

	v.SetDefault("archive.database", def.Archive.Database)
	v.SetDefault("archive.table", def.Archive.Table)
	v.SetDefault("archive.retention_horizon_s", def.Archive.RetentionHorizon)
	v.SetDefault("archive.batch_size", def.Archive.BatchSize)
	v.SetDefault("archive.interval_s", def.Archive.Interval)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the constraints spec §6 implies for a dispatcher process:
// a missing or invalid setting must fail fast with a non-zero exit rather
// than start claiming work in an unsafe configuration.
func Validate(cfg *Config) error {
	if cfg.Dispatcher.DatabaseURL == "" {
		return fmt.Errorf("dispatcher.database_url is required")
	}
	if cfg.Dispatcher.Scope != "public" && cfg.Dispatcher.Scope != "private" {
		return fmt.Errorf("dispatcher.scope must be \"public\" or \"private\", got %q", cfg.Dispatcher.Scope)
	}
	if cfg.Dispatcher.WorkerID == "" {
		return fmt.Errorf("dispatcher.worker_id is required")
	}
	if cfg.Dispatcher.Concurrent < 1 || cfg.Dispatcher.Concurrent > 100 {
		return fmt.Errorf("dispatcher.concurrent must be 1..100, got %d", cfg.Dispatcher.Concurrent)
	}
	if cfg.Dispatcher.ConnectTimeout <= 0 {
		return fmt.Errorf("dispatcher.connect_timeout_s must be > 0")
	}
	if cfg.Dispatcher.Timeout <= 0 {
		return fmt.Errorf("dispatcher.timeout_s must be > 0")
	}
	if cfg.Dispatcher.OrphanReclaimHorizon <= 0 {
		return fmt.Errorf("dispatcher.orphan_reclaim_horizon_s must be > 0")
	}
	if cfg.Dispatcher.AutoDisableThreshold <= 0 {
		return fmt.Errorf("dispatcher.auto_disable_threshold must be > 0")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
