// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/fleetworks/fleetbridge/internal/config"
	"github.com/fleetworks/fleetbridge/internal/logging"
	"github.com/fleetworks/fleetbridge/internal/metrics"
	"github.com/fleetworks/fleetbridge/internal/models"
)

// BreakerClient wraps Client with a circuit breaker so a degraded provider
// fails a run fast instead of burning the full retry budget on every call.
//
// The breaker uses real time for its interval and timeout calculations.
// Tests exercise the wrapped client directly rather than mocking the breaker.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
}

var (
	_ API = (*Client)(nil)
	_ API = (*BreakerClient)(nil)
)

// NewBreakerClient creates a telemetry source client protected by a circuit
// breaker. The breaker opens after a 60% failure rate over at least 10
// requests, and probes recovery after one minute.
func NewBreakerClient(cfg *config.SourceConfig) *BreakerClient {
	log := logging.Component("source")
	metrics.CircuitBreakerState.Set(0) // closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "telemetry-source",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.Set(stateToFloat(to))
		},
	})

	return &BreakerClient{
		client: NewClient(cfg),
		cb:     cb,
	}
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// execute runs fn through the breaker, mapping an open circuit to the
// source-unavailable sentinel so callers classify it like any other outage.
func execute[T any](b *BreakerClient, fn func() (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
		}
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected result type %T", result)
	}
	return typed, nil
}

func (b *BreakerClient) Authenticate(ctx context.Context) error {
	_, err := execute(b, func() (struct{}, error) {
		return struct{}{}, b.client.Authenticate(ctx)
	})
	return err
}

func (b *BreakerClient) GetDevices(ctx context.Context) ([]models.Device, error) {
	return execute(b, func() ([]models.Device, error) { return b.client.GetDevices(ctx) })
}

func (b *BreakerClient) GetGroups(ctx context.Context) ([]models.Group, error) {
	return execute(b, func() ([]models.Group, error) { return b.client.GetGroups(ctx) })
}

func (b *BreakerClient) GetUsers(ctx context.Context) ([]models.User, error) {
	return execute(b, func() ([]models.User, error) { return b.client.GetUsers(ctx) })
}

func (b *BreakerClient) GetZones(ctx context.Context) ([]models.Zone, error) {
	return execute(b, func() ([]models.Zone, error) { return b.client.GetZones(ctx) })
}

func (b *BreakerClient) GetRules(ctx context.Context) ([]models.Rule, error) {
	return execute(b, func() ([]models.Rule, error) { return b.client.GetRules(ctx) })
}

func (b *BreakerClient) GetDiagnostics(ctx context.Context) ([]models.Diagnostic, error) {
	return execute(b, func() ([]models.Diagnostic, error) { return b.client.GetDiagnostics(ctx) })
}

func (b *BreakerClient) GetControllers(ctx context.Context) ([]models.Controller, error) {
	return execute(b, func() ([]models.Controller, error) { return b.client.GetControllers(ctx) })
}

func (b *BreakerClient) GetTrips(ctx context.Context, window models.TimeWindow) ([]models.Trip, error) {
	return execute(b, func() ([]models.Trip, error) { return b.client.GetTrips(ctx, window) })
}

func (b *BreakerClient) GetExceptionEvents(ctx context.Context, window models.TimeWindow) ([]models.ExceptionEvent, error) {
	return execute(b, func() ([]models.ExceptionEvent, error) { return b.client.GetExceptionEvents(ctx, window) })
}

func (b *BreakerClient) GetFaultEvents(ctx context.Context, window models.TimeWindow) ([]models.FaultEvent, error) {
	return execute(b, func() ([]models.FaultEvent, error) { return b.client.GetFaultEvents(ctx, window) })
}

func (b *BreakerClient) GetStatusSnapshots(ctx context.Context) ([]models.StatusSnapshot, error) {
	return execute(b, func() ([]models.StatusSnapshot, error) { return b.client.GetStatusSnapshots(ctx) })
}

func (b *BreakerClient) GetPositionLogs(ctx context.Context, window models.TimeWindow) ([]models.PositionLog, error) {
	return execute(b, func() ([]models.PositionLog, error) { return b.client.GetPositionLogs(ctx, window) })
}

func (b *BreakerClient) GetStatusReadings(ctx context.Context, diagnosticID string, window models.TimeWindow) ([]models.StatusReading, error) {
	return execute(b, func() ([]models.StatusReading, error) {
		return b.client.GetStatusReadings(ctx, diagnosticID, window)
	})
}

func (b *BreakerClient) SetDevice(ctx context.Context, device models.Device) error {
	_, err := execute(b, func() (struct{}, error) {
		return struct{}{}, b.client.SetDevice(ctx, device)
	})
	return err
}

func (b *BreakerClient) ReverseGeocode(ctx context.Context, point models.LatLon) (string, error) {
	return execute(b, func() (string, error) { return b.client.ReverseGeocode(ctx, point) })
}
