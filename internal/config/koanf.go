// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file search order. The first file
// found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/clockbridge/config.yaml",
	"/etc/clockbridge/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CLOCKBRIDGE_CONFIG"

// envPrefix namespaces all environment overrides.
const envPrefix = "CLOCKBRIDGE_"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8480,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/clockbridge.db",
			CursorDir: "/data/cursors",
		},
		Acquisition: AcquisitionConfig{
			DefaultPollInterval: 5 * time.Minute,
			LivePollInterval:    10 * time.Second,
			ReconnectMin:        time.Second,
			ReconnectMax:        2 * time.Minute,
			BreakerThreshold:    5,
			BreakerCooldown:     time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file, and
// CLOCKBRIDGE_* environment variables, then validates it.
//
// Environment names map by section prefix:
//
//	CLOCKBRIDGE_SERVER_PORT              -> server.port
//	CLOCKBRIDGE_DATABASE_CURSOR_DIR      -> database.cursor_dir
//	CLOCKBRIDGE_ACQUISITION_RECONNECT_MIN -> acquisition.reconnect_min
//	CLOCKBRIDGE_LOG_LEVEL                -> logging.level
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sectionPrefixes maps the leading env token to the config section whose
// remaining tokens join with underscores.
var sectionPrefixes = map[string]string{
	"server":      "server",
	"database":    "database",
	"acquisition": "acquisition",
	"log":         "logging",
	"logging":     "logging",
}

// envTransform maps CLOCKBRIDGE_SECTION_FIELD_NAME to section.field_name.
// Unknown sections are skipped so unrelated environment variables cannot
// leak into the configuration.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return ""
	}
	mapped, ok := sectionPrefixes[section]
	if !ok {
		return ""
	}
	return mapped + "." + rest
}
