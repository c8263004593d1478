// Package config loads and validates the gateway configuration from YAML or
// JSON5 files, with environment variable expansion and $include support.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Accounts AccountsConfig `yaml:"accounts"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Usage    UsageConfig    `yaml:"usage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig configures the connection to the upstream service.
type UpstreamConfig struct {
	Region         string        `yaml:"region"`
	BaseURL        string        `yaml:"base_url"`
	ProxyURL       string        `yaml:"proxy_url"`
	KiroVersion    string        `yaml:"kiro_version"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AccountsConfig configures the credential roster.
type AccountsConfig struct {
	// Path is the roster JSON file.
	Path string `yaml:"path"`

	// Watch reloads the roster when the file changes on disk.
	Watch bool `yaml:"watch"`

	// SelectionPolicy is round-robin, random, or least-used.
	SelectionPolicy string `yaml:"selection_policy"`

	// Cooldown is how long a throttled account is parked.
	Cooldown time.Duration `yaml:"cooldown"`
}

// AuthConfig configures token refresh behavior.
type AuthConfig struct {
	// RefreshMargin renews tokens that expire within this window.
	RefreshMargin time.Duration `yaml:"refresh_margin"`

	// RetryAttempts bounds transient refresh retries.
	RetryAttempts int `yaml:"retry_attempts"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	// DSN is the file path for sqlite or the connection string for postgres.
	DSN string `yaml:"dsn"`

	// LogBuffer sizes the async telemetry queue.
	LogBuffer int `yaml:"log_buffer"`
}

// UsageConfig configures the quota sweep.
type UsageConfig struct {
	// RefreshSchedule is a cron spec; @every descriptors work too.
	RefreshSchedule string `yaml:"refresh_schedule"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string   `yaml:"level"`
	Format string   `yaml:"format"`
	Redact []string `yaml:"redact"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
	Insecure   bool    `yaml:"insecure"`
}

// Default returns a config with every default applied, usable without a
// config file at all.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Upstream.Region == "" {
		c.Upstream.Region = "us-east-1"
	}
	if c.Upstream.KiroVersion == "" {
		c.Upstream.KiroVersion = "0.8.0"
	}
	if c.Upstream.RequestTimeout == 0 {
		c.Upstream.RequestTimeout = 2 * time.Minute
	}
	if c.Accounts.Path == "" {
		c.Accounts.Path = "accounts.json"
	}
	if c.Accounts.SelectionPolicy == "" {
		c.Accounts.SelectionPolicy = "round-robin"
	}
	if c.Accounts.Cooldown == 0 {
		c.Accounts.Cooldown = 5 * time.Minute
	}
	if c.Auth.RefreshMargin == 0 {
		c.Auth.RefreshMargin = 5 * time.Minute
	}
	if c.Auth.RetryAttempts == 0 {
		c.Auth.RetryAttempts = 3
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "kirogate.db"
	}
	if c.Usage.RefreshSchedule == "" {
		c.Usage.RefreshSchedule = "@every 6h"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Accounts.SelectionPolicy {
	case "round-robin", "random", "least-used":
	default:
		return fmt.Errorf("accounts.selection_policy %q is not round-robin, random, or least-used", c.Accounts.SelectionPolicy)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver %q is not sqlite or postgres", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres driver")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate %v out of range", c.Tracing.SampleRate)
	}
	return nil
}
