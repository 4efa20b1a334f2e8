// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

// Package metrics registers the Prometheus collectors instrumenting a
// synchronization run: source API calls, report assembly, zone resolution
// and the geocode quota gate, transfer operations, and reconciliation
// outcomes. The collectors are process-global and survive across runs in
// loop mode.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_runs_total",
			Help: "Total synchronization runs by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetbridge_run_duration_seconds",
			Help:    "Duration of one full synchronization run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Source API metrics
	SourceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_source_calls_total",
			Help: "Telemetry source API calls by method and result",
		},
		[]string{"method", "result"}, // result: "ok", "error"
	)

	SourceCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetbridge_source_call_duration_seconds",
			Help:    "Telemetry source API call duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetbridge_source_breaker_state",
			Help: "Source API circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Report pipeline metrics
	ReportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_report_rows_total",
			Help: "Report rows emitted by report type",
		},
		[]string{"report"},
	)

	ReportSkippedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_report_skipped_events_total",
			Help: "Malformed telemetry events skipped during report assembly",
		},
		[]string{"report"},
	)

	// Zone resolution / geocoding metrics
	ZoneResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_zone_resolutions_total",
			Help: "Coordinate resolutions by outcome",
		},
		[]string{"outcome"}, // "zone", "geocoded", "unresolved"
	)

	GeocodeCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_geocode_calls_total",
			Help: "Reverse-geocode fallback calls by result",
		},
		[]string{"result"},
	)

	GeocodeThrottleSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetbridge_geocode_throttle_seconds_total",
			Help: "Time spent waiting on the geocode rate limiter",
		},
	)

	// Transfer metrics
	TransferOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_transfer_operations_total",
			Help: "Transfer gateway operations by direction and result",
		},
		[]string{"direction", "result"}, // direction: "push", "pull"
	)

	// Reconciliation metrics
	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_reconcile_outcomes_total",
			Help: "Change-record outcomes by terminal state",
		},
		[]string{"state"}, // "unmatched", "rejected", "applied", "failed", "superseded"
	)

	DeviceWriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetbridge_device_write_retries_total",
			Help: "Device write attempts beyond the first",
		},
	)
)
