// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

// Package geo resolves coordinates to human-readable locations. Zone
// membership is decided locally against the tenant's geofence polygons;
// coordinates outside every zone fall back to the provider's reverse
// geocoder behind a shared rate limiter.
package geo

import (
	"math"

	"github.com/fleetworks/fleetbridge/internal/models"
)

// collinearEpsilon bounds the cross-product magnitude under which a point
// counts as lying on a polygon edge. Zone vertices carry at most six decimal
// places, so this is well below coordinate resolution.
const collinearEpsilon = 1e-12

// indexedZone is a zone with its precomputed bounding box for fast rejects.
type indexedZone struct {
	zone       models.Zone
	minLat     float64
	maxLat     float64
	minLon     float64
	maxLon     float64
}

// GeometryIndex answers point-in-zone queries against a fixed zone set.
// Build one per run from the reference cache; lookups are read-only and safe
// for concurrent use.
type GeometryIndex struct {
	zones []indexedZone
}

// NewGeometryIndex builds an index over the given zones. Zones with fewer
// than three boundary points cannot contain anything and are skipped.
func NewGeometryIndex(zones []models.Zone) *GeometryIndex {
	idx := &GeometryIndex{zones: make([]indexedZone, 0, len(zones))}
	for _, z := range zones {
		if len(z.Points) < 3 {
			continue
		}
		iz := indexedZone{
			zone:   z,
			minLat: math.Inf(1),
			maxLat: math.Inf(-1),
			minLon: math.Inf(1),
			maxLon: math.Inf(-1),
		}
		for _, p := range z.Points {
			iz.minLat = math.Min(iz.minLat, p.Lat)
			iz.maxLat = math.Max(iz.maxLat, p.Lat)
			iz.minLon = math.Min(iz.minLon, p.Lon)
			iz.maxLon = math.Max(iz.maxLon, p.Lon)
		}
		idx.zones = append(idx.zones, iz)
	}
	return idx
}

// ZonesContaining returns every zone whose boundary contains the point, in
// index order. Points exactly on a boundary count as inside.
func (idx *GeometryIndex) ZonesContaining(p models.LatLon) []models.Zone {
	var matches []models.Zone
	for _, iz := range idx.zones {
		if p.Lat < iz.minLat || p.Lat > iz.maxLat || p.Lon < iz.minLon || p.Lon > iz.maxLon {
			continue
		}
		if pointInPolygon(p, iz.zone.Points) {
			matches = append(matches, iz.zone)
		}
	}
	return matches
}

// pointInPolygon implements ray casting with an explicit edge check so
// boundary points are inside, regardless of crossing parity.
func pointInPolygon(p models.LatLon, poly []models.LatLon) bool {
	inside := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[j], poly[i]
		if onSegment(p, a, b) {
			return true
		}
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			crossLon := a.Lon + (p.Lat-a.Lat)*(b.Lon-a.Lon)/(b.Lat-a.Lat)
			if p.Lon < crossLon {
				inside = !inside
			}
		}
	}
	return inside
}

// onSegment reports whether p lies on the closed segment ab.
func onSegment(p, a, b models.LatLon) bool {
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	if math.Abs(cross) > collinearEpsilon {
		return false
	}
	return p.Lat >= math.Min(a.Lat, b.Lat) && p.Lat <= math.Max(a.Lat, b.Lat) &&
		p.Lon >= math.Min(a.Lon, b.Lon) && p.Lon <= math.Max(a.Lon, b.Lon)
}
