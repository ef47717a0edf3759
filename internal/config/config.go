// Package config provides configuration loading for patternd.
//
// Configuration is loaded from a YAML file, then overridden by
// PATTERND_* environment variables, with hardcoded defaults for
// anything left unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete patternd configuration.
type Config struct {
	NATS       NATSConfig       `koanf:"nats"`
	Storage    StorageConfig    `koanf:"storage"`
	Governance GovernanceConfig `koanf:"governance"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Logging    LoggingConfig    `koanf:"logging"`
	Debug      DebugConfig      `koanf:"debug"`
}

// NATSConfig holds the event bus connection settings.
type NATSConfig struct {
	URL           string   `koanf:"url"`
	Name          string   `koanf:"name"`
	ReconnectWait Duration `koanf:"reconnect_wait"`
	MaxReconnects int      `koanf:"max_reconnects"`
}

// StorageConfig holds the SQLite store settings.
type StorageConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for
	// ephemeral runs.
	Path string `koanf:"path"`
}

// GovernanceConfig holds lifecycle governance settings.
type GovernanceConfig struct {
	// AttributionMethod selects how session outcomes are attributed to
	// injected patterns: equal_split, recency_weighted, or first_match.
	AttributionMethod string `koanf:"attribution_method"`
}

// SchedulerConfig holds the periodic gate scan settings.
type SchedulerConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Interval       Duration `koanf:"interval"`
	ScanBudget     Duration `koanf:"scan_budget"`
	DedupRetention Duration `koanf:"dedup_retention"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// DebugConfig holds the metrics/health HTTP listener settings.
type DebugConfig struct {
	// ListenAddr serves /metrics and /health. Empty disables the
	// listener.
	ListenAddr string `koanf:"listen_addr"`
}

var (
	// ErrInvalidAttributionMethod indicates an unknown attribution method.
	ErrInvalidAttributionMethod = errors.New("invalid attribution method")

	// ErrInvalidLogLevel indicates an unknown logging level.
	ErrInvalidLogLevel = errors.New("invalid logging level")

	// ErrInvalidLogFormat indicates an unknown logging format.
	ErrInvalidLogFormat = errors.New("invalid logging format")
)

// applyDefaults fills zero values with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.Name == "" {
		cfg.NATS.Name = "patternd"
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = Duration(2 * time.Second)
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = -1 // Retry forever
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultDatabasePath()
	}
	if cfg.Governance.AttributionMethod == "" {
		cfg.Governance.AttributionMethod = "equal_split"
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = Duration(time.Hour)
	}
	if cfg.Scheduler.ScanBudget == 0 {
		cfg.Scheduler.ScanBudget = Duration(5 * time.Minute)
	}
	if cfg.Scheduler.DedupRetention == 0 {
		cfg.Scheduler.DedupRetention = Duration(7 * 24 * time.Hour)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Debug.ListenAddr == "" {
		cfg.Debug.ListenAddr = "127.0.0.1:9090"
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "patternd.db"
	}
	return filepath.Join(home, ".local", "share", "patternd", "patternd.db")
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Governance.AttributionMethod {
	case "equal_split", "recency_weighted", "first_match":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidAttributionMethod, c.Governance.AttributionMethod)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.Scheduler.Interval.Duration() <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", c.Scheduler.Interval.Duration())
	}
	if c.Scheduler.ScanBudget.Duration() <= 0 {
		return fmt.Errorf("scheduler scan budget must be positive, got %s", c.Scheduler.ScanBudget.Duration())
	}

	return nil
}
