// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

// Package config loads Fleetbridge configuration with Koanf v2.
//
// Sources are layered, highest priority last:
//
//  1. Built-in defaults
//  2. YAML config file (CONFIG_PATH, ./config.yaml, /etc/fleetbridge/config.yaml)
//  3. Environment variables (SOURCE_URL, SFTP_HOST, SYNC_INTERVAL, ...)
//
// The loaded Config is validated before use; a run never starts on a
// half-formed configuration.
package config

import (
	"fmt"
	"time"

	"github.com/fleetworks/fleetbridge/internal/logging"
)

// Config is the full Fleetbridge configuration, passed explicitly into each
// component constructor. No component reads configuration globally.
type Config struct {
	Source    SourceConfig    `koanf:"source"`
	Transfer  TransferConfig  `koanf:"transfer"`
	Sync      SyncConfig      `koanf:"sync"`
	Report    ReportConfig    `koanf:"report"`
	Geocode   GeocodeConfig   `koanf:"geocode"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
	Logging   logging.Config  `koanf:"logging"`
}

// SourceConfig configures the telemetry platform API client.
type SourceConfig struct {
	URL      string `koanf:"url"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	Timeout       time.Duration `koanf:"timeout"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
}

// TransferConfig configures the SFTP gateway shared by both transfer
// directions: reports are pushed to ImportDir, the inbound change file is
// pulled from ExportDir.
type TransferConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	ImportDir   string `koanf:"import_dir"`
	ExportDir   string `koanf:"export_dir"`
	InboundFile string `koanf:"inbound_file"`

	Timeout       time.Duration `koanf:"timeout"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	// LocalDir switches the gateway to a local-directory implementation,
	// used in development and tests. Host is ignored when set.
	LocalDir string `koanf:"local_dir"`
}

// SyncConfig configures run cadence and the event look-back window.
type SyncConfig struct {
	// Tenant prefixes every outbound report file name.
	Tenant string `koanf:"tenant"`

	// Interval is the run cadence when running as a loop, and the
	// default Lookback when Lookback is unset.
	Interval time.Duration `koanf:"interval"`

	// Lookback is the trailing window events are fetched for.
	Lookback time.Duration `koanf:"lookback"`
}

// ReportConfig configures the report pipeline.
type ReportConfig struct {
	// Timezone is the IANA zone report timestamps are rendered in.
	Timezone string `koanf:"timezone"`

	// ZoneWorkers bounds concurrent per-device zone resolution.
	ZoneWorkers int `koanf:"zone_workers"`
}

// GeocodeConfig configures the reverse-geocoding fallback, the one
// quota-bound collaborator in the system.
type GeocodeConfig struct {
	// MinInterval is the minimum delay between geocode calls.
	MinInterval time.Duration `koanf:"min_interval"`
}

// ReconcileConfig configures the reconciliation engine.
type ReconcileConfig struct {
	// RetryAttempts bounds device-write retries within one run.
	RetryAttempts int `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	// Workers bounds concurrent device writes. Records are collapsed to
	// one per device before apply, so per-device ordering holds at any
	// worker count.
	Workers int `koanf:"workers"`
}

// Validate checks the configuration for values no run can proceed with.
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Source.Database == "" {
		return fmt.Errorf("source.database is required")
	}
	if c.Transfer.LocalDir == "" && c.Transfer.Host == "" {
		return fmt.Errorf("transfer.host is required unless transfer.local_dir is set")
	}
	if c.Transfer.Port <= 0 || c.Transfer.Port > 65535 {
		return fmt.Errorf("transfer.port must be in 1..65535, got %d", c.Transfer.Port)
	}
	if c.Sync.Lookback <= 0 {
		return fmt.Errorf("sync.lookback must be positive, got %s", c.Sync.Lookback)
	}
	if c.Sync.Tenant == "" {
		return fmt.Errorf("sync.tenant is required")
	}
	if c.Report.ZoneWorkers <= 0 {
		return fmt.Errorf("report.zone_workers must be positive, got %d", c.Report.ZoneWorkers)
	}
	if c.Geocode.MinInterval < 0 {
		return fmt.Errorf("geocode.min_interval must not be negative, got %s", c.Geocode.MinInterval)
	}
	if c.Reconcile.RetryAttempts < 1 {
		return fmt.Errorf("reconcile.retry_attempts must be at least 1, got %d", c.Reconcile.RetryAttempts)
	}
	if c.Reconcile.Workers <= 0 {
		return fmt.Errorf("reconcile.workers must be positive, got %d", c.Reconcile.Workers)
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("report.timezone %q is not a valid IANA zone: %w", c.Report.Timezone, err)
	}
	return nil
}
