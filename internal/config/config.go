// Package config provides configuration loading for remedyd.
//
// Configuration is read from an optional YAML file, overridden by REMEDYD_*
// environment variables, then completed with defaults and validated.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete remedyd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Storage     StorageConfig     `koanf:"storage"`
	Artifacts   ArtifactsConfig   `koanf:"artifacts"`
	Jobs        JobsConfig        `koanf:"jobs"`
	Audit       AuditConfig       `koanf:"audit"`
	Remediation RemediationConfig `koanf:"remediation"`
	NATS        NATSConfig        `koanf:"nats"`
	Temporal    TemporalConfig    `koanf:"temporal"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration for health and metrics.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects and configures the plan store database.
type StorageConfig struct {
	Driver     string `koanf:"driver"` // sqlite or mysql
	DSN        Secret `koanf:"dsn"`
	MaxRetries int    `koanf:"max_retries"`
}

// ArtifactsConfig configures where document artifacts are kept.
type ArtifactsConfig struct {
	Root string `koanf:"root"`
}

// JobsConfig controls admission and stale-job recovery.
type JobsConfig struct {
	MaxConcurrentPerTenant int           `koanf:"max_concurrent_per_tenant"`
	MaxActiveAge           time.Duration `koanf:"max_active_age"`
	SweepInterval          time.Duration `koanf:"sweep_interval"`
}

// AuditConfig throttles calls into the audit engine.
type AuditConfig struct {
	RateLimit float64 `koanf:"rate_limit"` // audits per second, 0 disables throttling
	Burst     int     `koanf:"burst"`
}

// RemediationConfig holds fix-handler defaults.
type RemediationConfig struct {
	DefaultLanguage string `koanf:"default_language"`
	CatalogPath     string `koanf:"catalog_path"` // optional override for the classification catalog
}

// NATSConfig configures event publication.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// TemporalConfig configures the durable job workflow worker.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`

	// ReviewTimeout bounds how long a job workflow waits at the review
	// gate. Zero waits until a decision arrives.
	ReviewTimeout time.Duration `koanf:"review_timeout"`
}

// TelemetryConfig is the subset of OpenTelemetry settings exposed in the file.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http/protobuf
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// LoggingConfig is the subset of logging settings exposed in the file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Storage driver is unknown or the mysql driver has no DSN
//   - Tenant concurrency cap is below 1
//   - Stale-job age or sweep interval is not positive
//   - NATS or Temporal are enabled without an address
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "mysql":
		if !c.Storage.DSN.IsSet() {
			return errors.New("storage dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q (must be sqlite or mysql)", c.Storage.Driver)
	}
	if c.Storage.MaxRetries < 0 {
		return fmt.Errorf("storage max_retries must be >= 0, got %d", c.Storage.MaxRetries)
	}

	if c.Jobs.MaxConcurrentPerTenant < 1 {
		return fmt.Errorf("jobs max_concurrent_per_tenant must be >= 1, got %d", c.Jobs.MaxConcurrentPerTenant)
	}
	if c.Jobs.MaxActiveAge <= 0 {
		return errors.New("jobs max_active_age must be positive")
	}
	if c.Jobs.SweepInterval <= 0 {
		return errors.New("jobs sweep_interval must be positive")
	}

	if c.Audit.RateLimit < 0 {
		return fmt.Errorf("audit rate_limit must be >= 0, got %f", c.Audit.RateLimit)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}
	if c.Temporal.Enabled && c.Temporal.HostPort == "" {
		return errors.New("temporal host_port required when temporal is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}
