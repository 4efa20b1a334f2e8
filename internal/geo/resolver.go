// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package geo

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fleetworks/fleetbridge/internal/logging"
	"github.com/fleetworks/fleetbridge/internal/metrics"
	"github.com/fleetworks/fleetbridge/internal/models"
)

// Geocoder resolves a coordinate to an address when no zone matches.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, point models.LatLon) (string, error)
}

// ZoneResolver turns coordinates into location strings. Zone matches are
// joined with ", "; coordinates outside every zone go to the geocoder, one
// call at a time through the rate limiter shared across all workers.
type ZoneResolver struct {
	index    *GeometryIndex
	geocoder Geocoder
	limiter  *rate.Limiter
	workers  int
}

// NewZoneResolver builds a resolver over the given zones. minInterval is the
// minimum spacing between geocoder calls; workers bounds batch concurrency.
func NewZoneResolver(zones []models.Zone, geocoder Geocoder, minInterval time.Duration, workers int) *ZoneResolver {
	if workers < 1 {
		workers = 1
	}
	return &ZoneResolver{
		index:    NewGeometryIndex(zones),
		geocoder: geocoder,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		workers:  workers,
	}
}

// Resolve returns the location string for one coordinate. A zero coordinate
// resolves to the empty string without a geocoder call: devices that have
// never reported GPS send (0, 0).
func (r *ZoneResolver) Resolve(ctx context.Context, p models.LatLon) (string, error) {
	if p.IsZero() {
		metrics.ZoneResolutions.WithLabelValues("unresolved").Inc()
		return "", nil
	}

	if zones := r.index.ZonesContaining(p); len(zones) > 0 {
		names := make([]string, len(zones))
		for i, z := range zones {
			names[i] = z.Name
		}
		metrics.ZoneResolutions.WithLabelValues("zone").Inc()
		return strings.Join(names, ", "), nil
	}

	waitStart := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	metrics.GeocodeThrottleSeconds.Add(time.Since(waitStart).Seconds())

	addr, err := r.geocoder.ReverseGeocode(ctx, p)
	if err != nil {
		return "", err
	}
	if addr == "" {
		metrics.ZoneResolutions.WithLabelValues("unresolved").Inc()
		return "", nil
	}
	metrics.ZoneResolutions.WithLabelValues("geocoded").Inc()
	return addr, nil
}

// ZoneNames returns the comma-joined names of zones containing the point,
// without any geocoder fallback. Empty when no zone matches.
func (r *ZoneResolver) ZoneNames(p models.LatLon) string {
	zones := r.index.ZonesContaining(p)
	if len(zones) == 0 {
		return ""
	}
	names := make([]string, len(zones))
	for i, z := range zones {
		names[i] = z.Name
	}
	return strings.Join(names, ", ")
}

// ResolveBatch resolves a slice of coordinates, preserving order. Zone
// lookups run concurrently up to the worker bound; geocoder fallbacks are
// still serialized by the shared limiter. The first error cancels the batch.
func (r *ZoneResolver) ResolveBatch(ctx context.Context, points []models.LatLon) ([]string, error) {
	log := logging.Component("geo")
	results := make([]string, len(points))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, p := range points {
		g.Go(func() error {
			loc, err := r.Resolve(ctx, p)
			if err != nil {
				return err
			}
			results[i] = loc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().Int("points", len(points)).Msg("batch resolved")
	return results, nil
}
