// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package config loads the process configuration from layered sources:
// built-in defaults, an optional YAML file, and CLOCKBRIDGE_* environment
// variables, in ascending precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Acquisition AcquisitionConfig `koanf:"acquisition"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig locates the embedded stores.
type DatabaseConfig struct {
	// Path is the sqlite file holding devices, mappings, employees, and
	// the activity ledger.
	Path string `koanf:"path"`

	// CursorDir is the Badger directory holding per-device cursors.
	CursorDir string `koanf:"cursor_dir"`
}

// AcquisitionConfig tunes polling and live capture.
type AcquisitionConfig struct {
	// DefaultPollInterval applies to scheduled devices with no per-device
	// interval configured.
	DefaultPollInterval time.Duration `koanf:"default_poll_interval"`

	// LivePollInterval paces the pseudo-live poll loop on vendors that
	// have no push channel.
	LivePollInterval time.Duration `koanf:"live_poll_interval"`

	// ReconnectMin and ReconnectMax bound the live worker's exponential
	// reconnect backoff.
	ReconnectMin time.Duration `koanf:"reconnect_min"`
	ReconnectMax time.Duration `koanf:"reconnect_max"`

	// BreakerThreshold is the consecutive failure count that opens a
	// device's circuit breaker; BreakerCooldown is the open interval.
	BreakerThreshold uint32        `koanf:"breaker_threshold"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.CursorDir == "" {
		return fmt.Errorf("database.cursor_dir is required")
	}
	if c.Acquisition.DefaultPollInterval < time.Second {
		return fmt.Errorf("acquisition.default_poll_interval %s below 1s", c.Acquisition.DefaultPollInterval)
	}
	if c.Acquisition.ReconnectMin <= 0 || c.Acquisition.ReconnectMax < c.Acquisition.ReconnectMin {
		return fmt.Errorf("acquisition reconnect bounds invalid: min=%s max=%s",
			c.Acquisition.ReconnectMin, c.Acquisition.ReconnectMax)
	}
	return nil
}
