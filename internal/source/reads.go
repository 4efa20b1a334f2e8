// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package source

import (
	"context"
	"time"

	"github.com/fleetworks/fleetbridge/internal/models"
)

// resultsLimit caps bulk reads. The provider rejects unbounded Get calls on
// large tenants; 50000 matches its documented per-call maximum.
const resultsLimit = 50000

// get performs a typed "Get" call for one entity type.
func (c *Client) get(ctx context.Context, typeName string, search map[string]interface{}, result interface{}) error {
	params := map[string]interface{}{
		"typeName":     typeName,
		"resultsLimit": resultsLimit,
	}
	if search != nil {
		params["search"] = search
	}
	return c.call(ctx, "Get", params, result)
}

// windowSearch builds the fromDate/toDate search used by telemetry reads.
func windowSearch(window models.TimeWindow) map[string]interface{} {
	return map[string]interface{}{
		"fromDate": window.From.UTC().Format(time.RFC3339),
		"toDate":   window.To.UTC().Format(time.RFC3339),
	}
}

// GetDevices returns every device registered on the tenant, including
// historically active ones. Filtering to the active fleet is the caller's
// concern.
func (c *Client) GetDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := c.get(ctx, "Device", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// GetGroups returns the tenant's full group tree as a flat list.
func (c *Client) GetGroups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	if err := c.get(ctx, "Group", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetUsers returns all users, drivers included.
func (c *Client) GetUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.get(ctx, "User", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetZones returns the tenant's geofence zones with their boundary polygons.
func (c *Client) GetZones(ctx context.Context) ([]models.Zone, error) {
	var zones []models.Zone
	if err := c.get(ctx, "Zone", nil, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// GetRules returns the exception rules configured on the tenant.
func (c *Client) GetRules(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	if err := c.get(ctx, "Rule", nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// GetDiagnostics returns the diagnostic catalog.
func (c *Client) GetDiagnostics(ctx context.Context) ([]models.Diagnostic, error) {
	var diagnostics []models.Diagnostic
	if err := c.get(ctx, "Diagnostic", nil, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

// GetControllers returns the controller catalog referenced by fault events.
func (c *Client) GetControllers(ctx context.Context) ([]models.Controller, error) {
	var controllers []models.Controller
	if err := c.get(ctx, "Controller", nil, &controllers); err != nil {
		return nil, err
	}
	return controllers, nil
}

// GetTrips returns trips whose activity overlaps the window.
func (c *Client) GetTrips(ctx context.Context, window models.TimeWindow) ([]models.Trip, error) {
	var trips []models.Trip
	if err := c.get(ctx, "Trip", windowSearch(window), &trips); err != nil {
		return nil, err
	}
	return trips, nil
}

// GetExceptionEvents returns rule violations active within the window.
func (c *Client) GetExceptionEvents(ctx context.Context, window models.TimeWindow) ([]models.ExceptionEvent, error) {
	var events []models.ExceptionEvent
	if err := c.get(ctx, "ExceptionEvent", windowSearch(window), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetFaultEvents returns engine fault events recorded within the window.
func (c *Client) GetFaultEvents(ctx context.Context, window models.TimeWindow) ([]models.FaultEvent, error) {
	var faults []models.FaultEvent
	if err := c.get(ctx, "FaultData", windowSearch(window), &faults); err != nil {
		return nil, err
	}
	return faults, nil
}

// GetStatusSnapshots returns the current position and communication state of
// every device. Snapshots are instantaneous, so no window applies.
func (c *Client) GetStatusSnapshots(ctx context.Context) ([]models.StatusSnapshot, error) {
	var snapshots []models.StatusSnapshot
	if err := c.get(ctx, "DeviceStatusInfo", nil, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// GetPositionLogs returns raw GPS fixes recorded within the window.
func (c *Client) GetPositionLogs(ctx context.Context, window models.TimeWindow) ([]models.PositionLog, error) {
	var logs []models.PositionLog
	if err := c.get(ctx, "LogRecord", windowSearch(window), &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// GetStatusReadings returns readings of one diagnostic within the window,
// used for odometer and engine-hour lookups.
func (c *Client) GetStatusReadings(ctx context.Context, diagnosticID string, window models.TimeWindow) ([]models.StatusReading, error) {
	search := windowSearch(window)
	search["diagnosticSearch"] = map[string]string{"id": diagnosticID}

	var readings []models.StatusReading
	if err := c.get(ctx, "StatusData", search, &readings); err != nil {
		return nil, err
	}
	return readings, nil
}
