// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

// Package models defines the data structures exchanged between Fleetbridge
// components: reference entities snapshotted from the telemetry platform,
// raw telemetry events for the trailing run window, inbound change records
// from the maintenance system, and the per-run summary.
package models

import "time"

// LatLon is a WGS84 coordinate pair.
type LatLon struct {
	Lat float64 `json:"y"`
	Lon float64 `json:"x"`
}

// IsZero reports whether the coordinate is the unset zero value.
// (0,0) is a real location, but the telemetry platform uses it as
// its null coordinate and devices never report from Null Island.
func (p LatLon) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

// Device is a telemetry unit installed in a vehicle.
//
// Devices are loaded fresh into the reference cache at the start of every
// run and are read-only for the duration of the run. The only mutation path
// is the reconciliation engine, which writes name, VIN, and group membership
// back to the telemetry platform through a single update call per device.
type Device struct {
	ID           string    `json:"id"`
	SerialNumber string    `json:"serialNumber"`
	Name         string    `json:"name"`
	VIN          string    `json:"vehicleIdentificationNumber"`
	EngineVIN    string    `json:"engineVehicleIdentificationNumber"`
	Plan         string    `json:"devicePlan"`
	Groups       []string  `json:"groups"`
	ActiveFrom   time.Time `json:"activeFrom"`
	ActiveTo     time.Time `json:"activeTo"`
}

// Group is a node in the device-group forest. Parent is empty for roots.
// A group flagged Mutable authorizes Sink-originated writes for every
// device under it, directly or through descendants.
type Group struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Parent  string `json:"parent,omitempty"`
	Mutable bool   `json:"mutable"`
}

// User is a driver or operator account on the telemetry platform.
// KeySerialNumber and EmployeeNumber are denormalized into every report
// row so the output files are self-contained.
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	KeySerialNumber string `json:"keySerialNumber"`
	EmployeeNumber  string `json:"employeeNo"`
}

// Zone is a named polygonal region. Points form a closed, non-self-
// intersecting ring; the last vertex is implicitly connected to the first.
type Zone struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Points []LatLon `json:"points"`
}

// Rule describes an exception rule (speeding, harsh braking, ...).
type Rule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Comment string `json:"comment"`
}

// Diagnostic describes an engine diagnostic referenced by fault events.
type Diagnostic struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SourceName string `json:"source"`
	Code       string `json:"code"`
}

// Controller identifies the ECU a fault was reported by.
type Controller struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
