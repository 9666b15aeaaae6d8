// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
	if cfg.Server.Port != 8480 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Acquisition.DefaultPollInterval != 5*time.Minute {
		t.Errorf("default poll interval = %v", cfg.Acquisition.DefaultPollInterval)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"empty cursor dir", func(c *Config) { c.Database.CursorDir = "" }},
		{"poll interval below second", func(c *Config) { c.Acquisition.DefaultPollInterval = 100 * time.Millisecond }},
		{"reconnect min zero", func(c *Config) { c.Acquisition.ReconnectMin = 0 }},
		{"reconnect max below min", func(c *Config) {
			c.Acquisition.ReconnectMin = time.Minute
			c.Acquisition.ReconnectMax = time.Second
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CLOCKBRIDGE_SERVER_PORT", "server.port"},
		{"CLOCKBRIDGE_SERVER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"CLOCKBRIDGE_DATABASE_CURSOR_DIR", "database.cursor_dir"},
		{"CLOCKBRIDGE_ACQUISITION_RECONNECT_MIN", "acquisition.reconnect_min"},
		{"CLOCKBRIDGE_LOG_LEVEL", "logging.level"},
		{"CLOCKBRIDGE_LOGGING_FORMAT", "logging.format"},
		{"CLOCKBRIDGE_UNRELATED_THING", ""},
		{"CLOCKBRIDGE_SERVER", ""},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "server:\n  port: 9000\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("CLOCKBRIDGE_LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want file value 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q, want env override warn", cfg.Logging.Level)
	}
	if cfg.Database.Path != "/data/clockbridge.db" {
		t.Errorf("db path = %q, want default", cfg.Database.Path)
	}
}

func TestLoadRejectsInvalidOverride(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("CLOCKBRIDGE_SERVER_PORT", "0")

	if _, err := Load(); err == nil {
		t.Error("expected validation failure for port 0")
	}
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8480}
	if got := s.Addr(); got != "127.0.0.1:8480" {
		t.Errorf("Addr = %q", got)
	}
}
