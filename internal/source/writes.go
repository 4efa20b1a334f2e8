// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package source

import (
	"context"
	"fmt"

	"github.com/fleetworks/fleetbridge/internal/metrics"
	"github.com/fleetworks/fleetbridge/internal/models"
)

// SetDevice writes a device mutation back to the provider. The entity sent
// is the full device record; group membership is expressed as id references
// the way the provider expects them.
func (c *Client) SetDevice(ctx context.Context, device models.Device) error {
	groups := make([]map[string]string, 0, len(device.Groups))
	for _, id := range device.Groups {
		groups = append(groups, map[string]string{"id": id})
	}

	entity := map[string]interface{}{
		"id":                          device.ID,
		"name":                        device.Name,
		"serialNumber":                device.SerialNumber,
		"vehicleIdentificationNumber": device.VIN,
		"groups":                      groups,
	}

	params := map[string]interface{}{
		"typeName": "Device",
		"entity":   entity,
	}
	if err := c.call(ctx, "Set", params, nil); err != nil {
		return fmt.Errorf("set device %s: %w", device.ID, err)
	}
	return nil
}

// ReverseGeocode resolves a coordinate to a human-readable address.
//
// Callers are expected to gate calls behind the geocode rate limiter; this
// method does not throttle on its own.
func (c *Client) ReverseGeocode(ctx context.Context, point models.LatLon) (string, error) {
	params := map[string]interface{}{
		"coordinates": []models.LatLon{point},
	}

	var addresses []struct {
		FormattedAddress string `json:"formattedAddress"`
	}
	if err := c.call(ctx, "GetAddresses", params, &addresses); err != nil {
		metrics.GeocodeCalls.WithLabelValues("error").Inc()
		return "", fmt.Errorf("reverse geocode (%.5f, %.5f): %w", point.Lat, point.Lon, err)
	}
	if len(addresses) == 0 || addresses[0].FormattedAddress == "" {
		metrics.GeocodeCalls.WithLabelValues("empty").Inc()
		return "", nil
	}
	metrics.GeocodeCalls.WithLabelValues("ok").Inc()
	return addresses[0].FormattedAddress, nil
}
