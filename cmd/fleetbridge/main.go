// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

// Package main is the fleetbridge entry point.
//
// Fleetbridge synchronizes fleet telemetry with a fleet-management system:
// each run it pulls telemetry from the provider, builds four CSV reports
// (asset status, trips history, exceptions details, engine faults), uploads
// them over SFTP, then downloads the management system's change file and
// writes accepted device changes back to the provider.
//
// Usage:
//
//	fleetbridge run              # one run, exit 0 on success, 1 on failure
//	fleetbridge run -interval 1h # run immediately, then on a ticker
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file (config.yaml),
// built-in defaults. See config.example.yaml for the full surface.
//
// The process handles SIGINT and SIGTERM: the current run finishes its
// in-flight device write, the summary is printed, and the process exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetworks/fleetbridge/internal/config"
	"github.com/fleetworks/fleetbridge/internal/logging"
	"github.com/fleetworks/fleetbridge/internal/runner"
	"github.com/fleetworks/fleetbridge/internal/source"
	"github.com/fleetworks/fleetbridge/internal/transfer"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("fleetbridge", flag.ExitOnError)
	interval := fs.Duration("interval", 0, "rerun interval; 0 runs once and exits")
	localDir := fs.String("local-dir", "", "exchange files through a local directory instead of SFTP")

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "run" {
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("tenant", cfg.Sync.Tenant).
		Str("source_url", cfg.Source.URL).
		Str("sftp_host", cfg.Transfer.Host).
		Msg("Starting fleetbridge")

	api := source.NewBreakerClient(&cfg.Source)

	var gateway transfer.Gateway
	if dir := firstNonEmpty(*localDir, cfg.Transfer.LocalDir); dir != "" {
		logging.Info().Str("dir", dir).Msg("Using local directory gateway")
		gateway = transfer.NewLocalGateway(dir)
	} else {
		gateway = transfer.NewSFTPGateway(&cfg.Transfer)
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing transfer gateway")
		}
	}()

	r, err := runner.New(cfg, api, gateway)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize runner")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if *interval <= 0 {
		return runOnce(ctx, r)
	}
	return runLoop(ctx, r, *interval)
}

// runOnce executes a single run and maps the summary to the exit code.
func runOnce(ctx context.Context, r *runner.Runner) int {
	summary, err := r.Run(ctx)
	fmt.Println(summary.String())
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Run aborted")
	}
	if summary.Failed() || err != nil {
		return 1
	}
	return 0
}

// runLoop runs immediately, then on every tick, until the context is
// cancelled. Individual run failures are reported and do not stop the loop.
func runLoop(ctx context.Context, r *runner.Runner, interval time.Duration) int {
	logging.Info().Dur("interval", interval).Msg("Running on interval")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := r.Run(ctx)
		fmt.Println(summary.String())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return 0
			}
			logging.Error().Err(err).Msg("Run aborted")
		}

		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
