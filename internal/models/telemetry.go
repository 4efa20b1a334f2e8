// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package models

import "time"

// Trip is one completed journey reported by a device.
// All timestamps are UTC; distances are kilometers and speeds km/h as
// delivered by the telemetry platform. Unit conversion happens in the
// report pipeline, never here.
type Trip struct {
	DeviceID        string        `json:"device"`
	DriverID        string        `json:"driver,omitempty"`
	Start           time.Time     `json:"start"`
	Stop            time.Time     `json:"stop"`
	DistanceKm      float64       `json:"distance"`
	MaxSpeedKmh     float64       `json:"maximumSpeed"`
	DrivingDuration time.Duration `json:"drivingDuration"`
	StopDuration    time.Duration `json:"stopDuration"`
	IdlingDuration  time.Duration `json:"idlingDuration"`
	WorkDistanceKm  float64       `json:"workDistance"`
	WorkDriving     time.Duration `json:"workDrivingDuration"`
	WorkStop        time.Duration `json:"workStopDuration"`
	AfterHoursStart bool          `json:"afterHoursStart"`
	AfterHoursEnd   bool          `json:"afterHoursEnd"`
	StopPoint       LatLon        `json:"stopPoint"`
}

// ExceptionEvent is a rule violation reported by a device.
type ExceptionEvent struct {
	DeviceID   string        `json:"device"`
	DriverID   string        `json:"driver,omitempty"`
	RuleID     string        `json:"rule"`
	ActiveFrom time.Time     `json:"activeFrom"`
	Duration   time.Duration `json:"duration"`
	DistanceKm float64       `json:"distance"`
}

// FaultEvent is an engine diagnostic fault reported by a device controller.
type FaultEvent struct {
	DeviceID     string    `json:"device"`
	DiagnosticID string    `json:"diagnostic"`
	ControllerID string    `json:"controller"`
	OccurredAt   time.Time `json:"dateTime"`
}

// StatusSnapshot is the latest known state of a device at fetch time.
type StatusSnapshot struct {
	DeviceID        string    `json:"device"`
	DriverID        string    `json:"driver,omitempty"`
	Position        LatLon    `json:"position"`
	RecordedAt      time.Time `json:"dateTime"`
	IsDriving       bool      `json:"isDriving"`
	IsCommunicating bool      `json:"isDeviceCommunicating"`
}

// PositionLog is a single GPS fix. Exception events carry no coordinates
// of their own; the report pipeline joins them against position logs.
type PositionLog struct {
	DeviceID   string    `json:"device"`
	Position   LatLon    `json:"position"`
	RecordedAt time.Time `json:"dateTime"`
}

// StatusReading is one diagnostic measurement (odometer meters, engine
// hours) for a device. The source keeps only the latest reading per device
// within the run window.
type StatusReading struct {
	DeviceID   string    `json:"device"`
	Value      float64   `json:"data"`
	RecordedAt time.Time `json:"dateTime"`
}

// EventBatch holds every telemetry event fetched for one run window.
// It is assembled once per run and treated as read-only by the report
// builders, which makes the pipeline deterministic: identical batches
// produce byte-identical reports.
type EventBatch struct {
	Window      TimeWindow
	Trips       []Trip
	Exceptions  []ExceptionEvent
	Faults      []FaultEvent
	Snapshots   []StatusSnapshot
	Positions   []PositionLog
	Odometer    map[string]StatusReading // device id -> latest odometer reading (meters)
	EngineHours map[string]StatusReading // device id -> latest engine-hours reading
}

// TimeWindow is the half-open interval [From, To) a batch was fetched for.
type TimeWindow struct {
	From time.Time `json:"fromDate"`
	To   time.Time `json:"toDate"`
}

// LatestTripStart returns the start time of the most recent trip for the
// device in the batch, by stop time, matching the asset-status report's
// "last trip" column. The zero time means the device took no trips.
func (b *EventBatch) LatestTripStart(deviceID string) time.Time {
	var best *Trip
	for i := range b.Trips {
		t := &b.Trips[i]
		if t.DeviceID != deviceID {
			continue
		}
		if best == nil || t.Stop.After(best.Stop) {
			best = t
		}
	}
	if best == nil {
		return time.Time{}
	}
	return best.Start
}

// NearestPositionAfter returns the first position log for the device at or
// after ts, or nil if the batch has none. Used to locate exception events.
func (b *EventBatch) NearestPositionAfter(deviceID string, ts time.Time) *PositionLog {
	var best *PositionLog
	for i := range b.Positions {
		p := &b.Positions[i]
		if p.DeviceID != deviceID || p.RecordedAt.Before(ts) {
			continue
		}
		if best == nil || p.RecordedAt.Before(best.RecordedAt) {
			best = p
		}
	}
	return best
}
