// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

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

	"github.com/fleetworks/fleetbridge/internal/logging"
)

// DefaultConfigPaths lists config file locations searched in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fleetbridge/config.yaml",
	"/etc/fleetbridge/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			URL:           "",
			Database:      "",
			Timeout:       30 * time.Second,
			RetryAttempts: 5,
			RetryDelay:    2 * time.Second,
		},
		Transfer: TransferConfig{
			Port:          22,
			ImportDir:     "Import",
			ExportDir:     "Export/fleet",
			InboundFile:   "fleetinfo.csv",
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    5 * time.Second,
		},
		Sync: SyncConfig{
			Tenant:   "",
			Interval: time.Hour,
			Lookback: time.Hour,
		},
		Report: ReportConfig{
			Timezone:    "America/New_York",
			ZoneWorkers: 8,
		},
		Geocode: GeocodeConfig{
			// Stays under the platform's 450 calls/minute address quota.
			MinInterval: 150 * time.Millisecond,
		},
		Reconcile: ReconcileConfig{
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
			Workers:       4,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
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

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are ignored so unrelated environment noise never
// leaks into the configuration.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"source_url":            "source.url",
		"source_database":       "source.database",
		"source_username":       "source.username",
		"source_password":       "source.password",
		"source_timeout":        "source.timeout",
		"source_retry_attempts": "source.retry_attempts",
		"source_retry_delay":    "source.retry_delay",

		"sftp_host":           "transfer.host",
		"sftp_port":           "transfer.port",
		"sftp_username":       "transfer.username",
		"sftp_password":       "transfer.password",
		"sftp_import_dir":     "transfer.import_dir",
		"sftp_export_dir":     "transfer.export_dir",
		"sftp_inbound_file":   "transfer.inbound_file",
		"sftp_timeout":        "transfer.timeout",
		"sftp_retry_attempts": "transfer.retry_attempts",
		"sftp_retry_delay":    "transfer.retry_delay",
		"transfer_local_dir":  "transfer.local_dir",

		"sync_tenant":   "sync.tenant",
		"sync_interval": "sync.interval",
		"sync_lookback": "sync.lookback",

		"report_timezone":     "report.timezone",
		"report_zone_workers": "report.zone_workers",

		"geocode_min_interval": "geocode.min_interval",

		"reconcile_retry_attempts": "reconcile.retry_attempts",
		"reconcile_retry_delay":    "reconcile.retry_delay",
		"reconcile_workers":        "reconcile.workers",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
