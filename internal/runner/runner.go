// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

// Package runner orchestrates one synchronization run: load reference data,
// fetch the event batch, build and push the four reports, then pull and
// reconcile the inbound change file. The outbound and inbound halves are
// independent; a fatal error in one is recorded in the summary and the
// other half still runs. Only a failed reference load stops both.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetworks/fleetbridge/internal/config"
	"github.com/fleetworks/fleetbridge/internal/geo"
	"github.com/fleetworks/fleetbridge/internal/logging"
	"github.com/fleetworks/fleetbridge/internal/metrics"
	"github.com/fleetworks/fleetbridge/internal/models"
	"github.com/fleetworks/fleetbridge/internal/reconcile"
	"github.com/fleetworks/fleetbridge/internal/refcache"
	"github.com/fleetworks/fleetbridge/internal/report"
	"github.com/fleetworks/fleetbridge/internal/source"
	"github.com/fleetworks/fleetbridge/internal/transfer"
)

// Provider diagnostic ids for the odometer and engine-hour readings the
// asset-status report needs.
const (
	diagnosticOdometerID    = "DiagnosticRawOdometerId"
	diagnosticEngineHoursID = "DiagnosticEngineHoursId"
)

// Runner executes synchronization runs against one tenant.
type Runner struct {
	cfg     *config.Config
	api     source.API
	gateway transfer.Gateway
	cache   *refcache.Cache
	loc     *time.Location

	now func() time.Time
}

// New creates a runner. The configured report timezone must resolve; config
// validation has already checked it, so an error here means the environment
// lost its tzdata.
func New(cfg *config.Config, api source.API, gateway transfer.Gateway) (*Runner, error) {
	loc, err := time.LoadLocation(cfg.Report.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Report.Timezone, err)
	}
	return &Runner{
		cfg:     cfg,
		api:     api,
		gateway: gateway,
		cache:   refcache.New(),
		loc:     loc,
		now:     time.Now,
	}, nil
}

// Run executes one full synchronization run. The returned summary is always
// complete; the error is non-nil only when the context was cancelled before
// the run could finish.
func (r *Runner) Run(ctx context.Context) (*models.RunSummary, error) {
	log := logging.Component("runner")
	start := r.now().UTC()
	window := models.TimeWindow{From: start.Add(-r.cfg.Sync.Lookback), To: start}
	summary := models.NewRunSummary(start, window)

	defer func() {
		summary.Duration = r.now().UTC().Sub(start)
		result := "success"
		if summary.Failed() {
			result = "failure"
		}
		metrics.RunsTotal.WithLabelValues(result).Inc()
		metrics.RunDuration.Observe(summary.Duration.Seconds())
	}()

	log.Info().
		Str("run_id", summary.RunID.String()).
		Time("from", window.From).
		Time("to", window.To).
		Msg("run started")

	if err := r.cache.Load(ctx, r.api); err != nil {
		// Both halves read the cache; neither can proceed.
		summary.OutboundErr = err.Error()
		summary.InboundErr = err.Error()
		return summary, ctx.Err()
	}

	if err := r.outbound(ctx, summary); err != nil {
		summary.OutboundErr = err.Error()
		log.Error().Err(err).Msg("outbound half failed")
	}
	if ctx.Err() != nil {
		if summary.InboundErr == "" {
			summary.InboundErr = ctx.Err().Error()
		}
		return summary, ctx.Err()
	}
	if err := r.inbound(ctx, summary); err != nil {
		summary.InboundErr = err.Error()
		log.Error().Err(err).Msg("inbound half failed")
	}

	return summary, ctx.Err()
}

// outbound fetches the event batch, builds the four reports concurrently,
// and pushes them through the gateway.
func (r *Runner) outbound(ctx context.Context, summary *models.RunSummary) error {
	batch, err := r.fetchBatch(ctx, summary.Window)
	if err != nil {
		return fmt.Errorf("fetch event batch: %w", err)
	}

	resolver := geo.NewZoneResolver(
		r.cache.Zones(), r.api,
		r.cfg.Geocode.MinInterval, r.cfg.Report.ZoneWorkers,
	)
	builder := report.NewBuilder(r.cache, resolver, r.loc)

	reports := make([]*report.Report, len(report.Types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range report.Types {
		g.Go(func() error {
			rep, err := builder.Build(gctx, t, batch)
			if err != nil {
				return fmt.Errorf("build %s: %w", t, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, rep := range reports {
		summary.Reports[string(rep.Type)] = models.ReportCount{
			Rows:    len(rep.Rows),
			Skipped: rep.Skipped,
		}
		data, err := rep.CSV()
		if err != nil {
			return err
		}
		name := report.Filename(r.cfg.Sync.Tenant, rep.Type, summary.StartedAt)
		if err := r.gateway.Push(ctx, name, data); err != nil {
			return fmt.Errorf("push %s: %w", name, err)
		}
	}
	return nil
}

// fetchBatch pulls all windowed telemetry concurrently. Odometer and
// engine-hour readings collapse to the latest reading per device.
func (r *Runner) fetchBatch(ctx context.Context, window models.TimeWindow) (*models.EventBatch, error) {
	batch := &models.EventBatch{Window: window}

	var odometer, engineHours []models.StatusReading
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { batch.Trips, err = r.api.GetTrips(gctx, window); return })
	g.Go(func() (err error) { batch.Exceptions, err = r.api.GetExceptionEvents(gctx, window); return })
	g.Go(func() (err error) { batch.Faults, err = r.api.GetFaultEvents(gctx, window); return })
	g.Go(func() (err error) { batch.Snapshots, err = r.api.GetStatusSnapshots(gctx); return })
	g.Go(func() (err error) { batch.Positions, err = r.api.GetPositionLogs(gctx, window); return })
	g.Go(func() (err error) {
		odometer, err = r.api.GetStatusReadings(gctx, diagnosticOdometerID, window)
		return
	})
	g.Go(func() (err error) {
		engineHours, err = r.api.GetStatusReadings(gctx, diagnosticEngineHoursID, window)
		return
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch.Odometer = latestPerDevice(odometer)
	batch.EngineHours = latestPerDevice(engineHours)
	return batch, nil
}

func latestPerDevice(readings []models.StatusReading) map[string]models.StatusReading {
	latest := make(map[string]models.StatusReading)
	for _, reading := range readings {
		if reading.DeviceID == "" {
			continue
		}
		if prev, ok := latest[reading.DeviceID]; !ok || reading.RecordedAt.After(prev.RecordedAt) {
			latest[reading.DeviceID] = reading
		}
	}
	return latest
}

// inbound pulls the change file and reconciles it. An absent file is a
// normal outcome: the recipient publishes changes irregularly.
func (r *Runner) inbound(ctx context.Context, summary *models.RunSummary) error {
	log := logging.Component("runner")

	data, err := r.gateway.Pull(ctx, r.cfg.Transfer.InboundFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info().Str("file", r.cfg.Transfer.InboundFile).Msg("no inbound change file")
			return nil
		}
		return fmt.Errorf("pull %s: %w", r.cfg.Transfer.InboundFile, err)
	}

	engine := reconcile.New(
		r.cache, r.api,
		r.cfg.Reconcile.RetryAttempts, r.cfg.Reconcile.RetryDelay, r.cfg.Reconcile.Workers,
	)
	counts, err := engine.Reconcile(ctx, data)
	summary.Reconcile = counts
	return err
}
