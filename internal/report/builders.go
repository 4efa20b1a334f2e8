// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetworks/fleetbridge/internal/geo"
	"github.com/fleetworks/fleetbridge/internal/logging"
	"github.com/fleetworks/fleetbridge/internal/metrics"
	"github.com/fleetworks/fleetbridge/internal/models"
	"github.com/fleetworks/fleetbridge/internal/refcache"
)

// Builder assembles reports from an event batch. One builder serves all
// four report types and is safe for concurrent builds: it only reads from
// the cache and the resolver.
type Builder struct {
	cache    *refcache.Cache
	resolver *geo.ZoneResolver
	loc      *time.Location
}

// NewBuilder creates a report builder rendering timestamps in loc.
func NewBuilder(cache *refcache.Cache, resolver *geo.ZoneResolver, loc *time.Location) *Builder {
	return &Builder{cache: cache, resolver: resolver, loc: loc}
}

// Build assembles the report of the given type.
func (b *Builder) Build(ctx context.Context, t Type, batch *models.EventBatch) (*Report, error) {
	switch t {
	case TypeAssetStatus:
		return b.AssetStatus(ctx, batch)
	case TypeTripsHistory:
		return b.TripsHistory(ctx, batch)
	case TypeExceptionsDetails:
		return b.ExceptionsDetails(ctx, batch)
	case TypeEngineFaults:
		return b.EngineFaults(ctx, batch)
	default:
		return nil, fmt.Errorf("unknown report type %q", t)
	}
}

// deviceGroups joins the display names of a device's groups. Groups the
// cache does not know are omitted, not rendered as raw ids.
func (b *Builder) deviceGroups(device models.Device) string {
	var names []string
	for _, gid := range device.Groups {
		if g, ok := b.cache.GroupByID(gid); ok && g.Name != "" {
			names = append(names, g.Name)
		}
	}
	return strings.Join(names, ", ")
}

// driverInfo returns the driver key serial and employee number for a user
// id, blanks when the driver is unknown or unset.
func (b *Builder) driverInfo(driverID string) (serial, employee string) {
	if driverID == "" {
		return "", ""
	}
	u, ok := b.cache.UserByID(driverID)
	if !ok {
		return "", ""
	}
	return u.KeySerialNumber, u.EmployeeNumber
}

// resolveLocation returns the location string for a point, tolerating
// geocoder failures: a failed lookup logs and renders blank rather than
// aborting the report. Context cancellation still aborts.
func (b *Builder) resolveLocation(ctx context.Context, t Type, p models.LatLon) (string, error) {
	loc, err := b.resolver.Resolve(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log := logging.Component("report")
		log.Warn().
			Err(err).
			Str("report", string(t)).
			Float64("lat", p.Lat).
			Float64("lon", p.Lon).
			Msg("location lookup failed, leaving blank")
		return "", nil
	}
	return loc, nil
}

func finish(r *Report) *Report {
	metrics.ReportRows.WithLabelValues(string(r.Type)).Add(float64(len(r.Rows)))
	metrics.ReportSkippedEvents.WithLabelValues(string(r.Type)).Add(float64(r.Skipped))
	return r
}

// AssetStatus builds one row per status snapshot: identity, odometer and
// engine hours, position with address and zones, activity window, last trip,
// and VIN consistency.
func (b *Builder) AssetStatus(ctx context.Context, batch *models.EventBatch) (*Report, error) {
	r := &Report{
		Type: TypeAssetStatus,
		Header: []string{
			"DeviceName", "DeviceVIN", "DevicePlan", "CurrentOdometer", "DeviceGroup",
			"DrivingState", "Location", "LocationZones", "CurrentEngineHours",
			"ActiveFromDate", "ActiveFromTime", "ActiveToDate", "ActiveToTime",
			"SerialNumber", "DeviceId", "IsCommunicating", "LastTripDate", "LastTripTime",
			"LastGpsDate", "LastGpsTime", "DriverSerialNumber", "DriverEmployeeNumber",
			"EngineVIN", "VINMatch",
		},
	}

	for _, s := range batch.Snapshots {
		if s.DeviceID == "" {
			r.Skipped++
			continue
		}
		device, _ := b.cache.DeviceByID(s.DeviceID)

		// Zero readings render blank: a zero odometer means "no reading",
		// not a factory-fresh vehicle.
		odometer := ""
		if reading, ok := batch.Odometer[s.DeviceID]; ok && reading.Value != 0 {
			odometer = formatMiles(MetersToMiles(reading.Value))
		}
		engineHours := ""
		if reading, ok := batch.EngineHours[s.DeviceID]; ok && reading.Value != 0 {
			engineHours = strconv.FormatFloat(reading.Value, 'f', 2, 64)
		}

		location, err := b.resolveLocation(ctx, TypeAssetStatus, s.Position)
		if err != nil {
			return nil, err
		}
		zones := b.resolver.ZoneNames(s.Position)

		drivingState := "Stopped"
		if s.IsDriving {
			drivingState = "Driving"
		}
		communicating := "Device is not downloading data"
		if s.IsCommunicating {
			communicating = "OK"
		}

		activeFromDate, activeFromTime := SplitDateTime(device.ActiveFrom, b.loc)
		activeToDate, activeToTime := SplitDateTime(device.ActiveTo, b.loc)
		lastGpsDate, lastGpsTime := SplitDateTime(s.RecordedAt, b.loc)
		lastTripDate, lastTripTime := SplitDateTime(batch.LatestTripStart(s.DeviceID), b.loc)
		driverSerial, driverEmployee := b.driverInfo(s.DriverID)

		r.Rows = append(r.Rows, []string{
			device.Name, device.VIN, device.Plan, odometer, b.deviceGroups(device),
			drivingState, location, zones, engineHours,
			activeFromDate, activeFromTime, activeToDate, activeToTime,
			device.SerialNumber, s.DeviceID, communicating, lastTripDate, lastTripTime,
			lastGpsDate, lastGpsTime, driverSerial, driverEmployee,
			device.EngineVIN, strconv.FormatBool(device.VIN != "" && device.VIN == device.EngineVIN),
		})
	}
	return finish(r), nil
}

// TripsHistory builds one row per trip with distances in miles, speeds in
// mph, durations as HH:MM:SS, and the stop point resolved to a location.
func (b *Builder) TripsHistory(ctx context.Context, batch *models.EventBatch) (*Report, error) {
	r := &Report{
		Type: TypeTripsHistory,
		Header: []string{
			"DeviceName", "DeviceId", "DeviceGroup", "StartDate", "StartTime",
			"DrivingDuration", "StopDate", "StopTime", "Distance", "StopDuration",
			"Latitude", "Longitude", "Location", "LocationZones", "IdlingDuration",
			"MaximumSpeed", "IsStartWork", "IsStopWork", "WorkDistance",
			"WorkTripTime", "WorkStopTime", "OdometerAtStart",
			"DriverSerialNumber", "DriverEmployeeNumber", "DeviceSerialNumber",
		},
	}

	for _, trip := range batch.Trips {
		if trip.DeviceID == "" {
			r.Skipped++
			continue
		}
		device, _ := b.cache.DeviceByID(trip.DeviceID)

		location, err := b.resolveLocation(ctx, TypeTripsHistory, trip.StopPoint)
		if err != nil {
			return nil, err
		}
		zones := b.resolver.ZoneNames(trip.StopPoint)

		// Latest reading in the window stands in for the start odometer;
		// the provider exposes no per-trip odometer.
		odometerAtStart := ""
		if reading, ok := batch.Odometer[trip.DeviceID]; ok && reading.Value != 0 {
			odometerAtStart = formatMiles(MetersToMiles(reading.Value))
		}

		startDate, startTime := SplitDateTime(trip.Start, b.loc)
		stopDate, stopTime := SplitDateTime(trip.Stop, b.loc)
		driverSerial, driverEmployee := b.driverInfo(trip.DriverID)

		r.Rows = append(r.Rows, []string{
			device.Name, trip.DeviceID, b.deviceGroups(device), startDate, startTime,
			FormatDuration(trip.DrivingDuration), stopDate, stopTime,
			formatMiles(KmToMiles(trip.DistanceKm)), FormatDuration(trip.StopDuration),
			formatCoord(trip.StopPoint.Lat), formatCoord(trip.StopPoint.Lon),
			location, zones, FormatDuration(trip.IdlingDuration),
			formatMiles(KmhToMph(trip.MaxSpeedKmh)),
			formatFlag(!trip.AfterHoursStart), formatFlag(!trip.AfterHoursEnd),
			formatMiles(KmToMiles(trip.WorkDistanceKm)),
			FormatDuration(trip.WorkDriving), FormatDuration(trip.WorkStop),
			odometerAtStart, driverSerial, driverEmployee, device.SerialNumber,
		})
	}
	return finish(r), nil
}

// ExceptionsDetails builds one row per exception event. Events carry no
// coordinates, so each is located from the device's first position log at
// or after the event start.
func (b *Builder) ExceptionsDetails(ctx context.Context, batch *models.EventBatch) (*Report, error) {
	r := &Report{
		Type: TypeExceptionsDetails,
		Header: []string{
			"DeviceName", "DeviceId", "DeviceGroup", "RuleName", "Longitude", "Latitude",
			"Location", "LocationZones", "StartDate", "StartTime", "Duration", "Distance",
			"Details", "DriverSerialNumber", "DriverEmployeeNumber", "DeviceSerialNumber",
		},
	}

	for _, ev := range batch.Exceptions {
		if ev.DeviceID == "" {
			r.Skipped++
			continue
		}
		device, _ := b.cache.DeviceByID(ev.DeviceID)

		var point models.LatLon
		if pos := batch.NearestPositionAfter(ev.DeviceID, ev.ActiveFrom); pos != nil {
			point = pos.Position
		}
		location, err := b.resolveLocation(ctx, TypeExceptionsDetails, point)
		if err != nil {
			return nil, err
		}
		zones := b.resolver.ZoneNames(point)

		rule, _ := b.cache.RuleByID(ev.RuleID)
		startDate, startTime := SplitDateTime(ev.ActiveFrom, b.loc)
		driverSerial, driverEmployee := b.driverInfo(ev.DriverID)

		r.Rows = append(r.Rows, []string{
			device.Name, ev.DeviceID, b.deviceGroups(device), rule.Name,
			formatCoord(point.Lon), formatCoord(point.Lat), location, zones,
			startDate, startTime, FormatDuration(ev.Duration),
			formatMiles(KmToMiles(ev.DistanceKm)), rule.Comment,
			driverSerial, driverEmployee, device.SerialNumber,
		})
	}
	return finish(r), nil
}

// EngineFaults builds one row per fault event, denormalizing diagnostic and
// controller metadata. Faults carry no driver, so the driver comes from the
// device's status snapshot.
func (b *Builder) EngineFaults(ctx context.Context, batch *models.EventBatch) (*Report, error) {
	r := &Report{
		Type: TypeEngineFaults,
		Header: []string{
			"DeviceName", "DeviceId", "DeviceGroup", "Date", "Time",
			"DiagnosticName", "SourceName", "ControllerName", "DiagnosticCode",
			"DriverSerialNumber", "DriverEmployeeNumber", "DeviceSerialNumber",
		},
	}

	driverByDevice := make(map[string]string, len(batch.Snapshots))
	for _, s := range batch.Snapshots {
		if s.DriverID != "" {
			driverByDevice[s.DeviceID] = s.DriverID
		}
	}

	for _, fault := range batch.Faults {
		if fault.DeviceID == "" {
			r.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		device, _ := b.cache.DeviceByID(fault.DeviceID)
		diagnostic, _ := b.cache.DiagnosticByID(fault.DiagnosticID)

		date, clock := SplitDateTime(fault.OccurredAt, b.loc)
		driverSerial, driverEmployee := b.driverInfo(driverByDevice[fault.DeviceID])

		r.Rows = append(r.Rows, []string{
			device.Name, fault.DeviceID, b.deviceGroups(device), date, clock,
			diagnostic.Name, diagnostic.SourceName, b.cache.ControllerName(fault.ControllerID),
			diagnostic.Code, driverSerial, driverEmployee, device.SerialNumber,
		})
	}
	return finish(r), nil
}
