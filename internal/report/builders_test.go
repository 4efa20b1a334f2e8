// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package report

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fleetworks/fleetbridge/internal/geo"
	"github.com/fleetworks/fleetbridge/internal/models"
	"github.com/fleetworks/fleetbridge/internal/refcache"
)

type fixtureFetcher struct{}

func (fixtureFetcher) GetDevices(context.Context) ([]models.Device, error) {
	return []models.Device{
		{
			ID:           "b1",
			SerialNumber: "G9-0001",
			Name:         "Truck 12",
			VIN:          "1FTFW1ET5DFC10312",
			EngineVIN:    "1FTFW1ET5DFC10312",
			Plan:         "Pro",
			Groups:       []string{"g-east"},
			ActiveFrom:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		{ID: "b2", SerialNumber: "G9-0002", Name: "Van 3", VIN: "VIN-A", EngineVIN: "VIN-B"},
	}, nil
}
func (fixtureFetcher) GetGroups(context.Context) ([]models.Group, error) {
	return []models.Group{{ID: "g-east", Name: "East Region"}}, nil
}
func (fixtureFetcher) GetUsers(context.Context) ([]models.User, error) {
	return []models.User{{ID: "u1", Name: "Pat Doyle", KeySerialNumber: "KEY-77", EmployeeNumber: "E-1009"}}, nil
}
func (fixtureFetcher) GetZones(context.Context) ([]models.Zone, error) { return nil, nil }
func (fixtureFetcher) GetRules(context.Context) ([]models.Rule, error) {
	return []models.Rule{{ID: "r1", Name: "Harsh Braking", Comment: "Braking over threshold"}}, nil
}
func (fixtureFetcher) GetDiagnostics(context.Context) ([]models.Diagnostic, error) {
	return []models.Diagnostic{{ID: "d1", Name: "Coolant Temp", SourceName: "J1939", Code: "110"}}, nil
}
func (fixtureFetcher) GetControllers(context.Context) ([]models.Controller, error) {
	return []models.Controller{{ID: "c1", Name: "Engine ECU"}}, nil
}

type fixtureGeocoder struct{ address string }

func (g fixtureGeocoder) ReverseGeocode(context.Context, models.LatLon) (string, error) {
	return g.address, nil
}

func depotZone() models.Zone {
	return models.Zone{
		ID:   "z1",
		Name: "Depot",
		Points: []models.LatLon{
			{Lat: 42.0, Lon: -72.0},
			{Lat: 42.0, Lon: -71.0},
			{Lat: 43.0, Lon: -71.0},
			{Lat: 43.0, Lon: -72.0},
		},
	}
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	cache := refcache.New()
	if err := cache.Load(context.Background(), fixtureFetcher{}); err != nil {
		t.Fatalf("cache load: %v", err)
	}
	resolver := geo.NewZoneResolver(
		[]models.Zone{depotZone()},
		fixtureGeocoder{address: "1 Main St, Springfield"},
		time.Microsecond, 2,
	)
	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	return NewBuilder(cache, resolver, eastern)
}

func column(t *testing.T, r *Report, row []string, name string) string {
	t.Helper()
	for i, h := range r.Header {
		if h == name {
			return row[i]
		}
	}
	t.Fatalf("report %s has no column %q", r.Type, name)
	return ""
}

func TestAssetStatus(t *testing.T) {
	b := testBuilder(t)
	batch := &models.EventBatch{
		Snapshots: []models.StatusSnapshot{
			{
				DeviceID:        "b1",
				DriverID:        "u1",
				Position:        models.LatLon{Lat: 42.5, Lon: -71.5},
				RecordedAt:      time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC),
				IsDriving:       true,
				IsCommunicating: true,
			},
			{DeviceID: "", Position: models.LatLon{Lat: 1, Lon: 1}}, // malformed
		},
		Trips: []models.Trip{
			{
				DeviceID: "b1",
				Start:    time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
				Stop:     time.Date(2026, 3, 1, 13, 45, 0, 0, time.UTC),
			},
		},
		Odometer: map[string]models.StatusReading{
			"b1": {DeviceID: "b1", Value: 160934.4},
		},
		EngineHours: map[string]models.StatusReading{},
	}

	r, err := b.AssetStatus(context.Background(), batch)
	if err != nil {
		t.Fatalf("AssetStatus() error = %v", err)
	}
	if len(r.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(r.Rows))
	}
	if r.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", r.Skipped)
	}

	row := r.Rows[0]
	checks := map[string]string{
		"DeviceName":           "Truck 12",
		"DevicePlan":           "Pro",
		"CurrentOdometer":      "100.00",
		"DeviceGroup":          "East Region",
		"DrivingState":         "Driving",
		"Location":             "Depot",
		"LocationZones":        "Depot",
		"CurrentEngineHours":   "",
		"ActiveFromDate":       "06/01/2025",
		"SerialNumber":         "G9-0001",
		"IsCommunicating":      "OK",
		"LastTripDate":         "03/01/2026",
		"LastTripTime":         "08:00:00 AM",
		"LastGpsTime":          "09:30:00 AM",
		"DriverSerialNumber":   "KEY-77",
		"DriverEmployeeNumber": "E-1009",
		"VINMatch":             "true",
	}
	for col, want := range checks {
		if got := column(t, r, row, col); got != want {
			t.Errorf("%s = %q, want %q", col, got, want)
		}
	}
}

func TestAssetStatusVINMismatch(t *testing.T) {
	b := testBuilder(t)
	batch := &models.EventBatch{
		Snapshots: []models.StatusSnapshot{{DeviceID: "b2"}},
	}

	r, err := b.AssetStatus(context.Background(), batch)
	if err != nil {
		t.Fatalf("AssetStatus() error = %v", err)
	}
	if got := column(t, r, r.Rows[0], "VINMatch"); got != "false" {
		t.Errorf("VINMatch = %q, want false", got)
	}
	// No position reported: location columns stay blank.
	if got := column(t, r, r.Rows[0], "Location"); got != "" {
		t.Errorf("Location = %q, want blank for zero position", got)
	}
}

func TestTripsHistory(t *testing.T) {
	b := testBuilder(t)
	batch := &models.EventBatch{
		Trips: []models.Trip{
			{
				DeviceID:        "b1",
				DriverID:        "u1",
				Start:           time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
				Stop:            time.Date(2026, 3, 1, 13, 45, 0, 0, time.UTC),
				DistanceKm:      10,
				MaxSpeedKmh:     100,
				DrivingDuration: 45 * time.Minute,
				StopDuration:    5 * time.Minute,
				IdlingDuration:  90 * time.Second,
				WorkDistanceKm:  8,
				WorkDriving:     40 * time.Minute,
				WorkStop:        2 * time.Minute,
				AfterHoursStart: false,
				AfterHoursEnd:   true,
				StopPoint:       models.LatLon{Lat: 10.0, Lon: 10.0},
			},
			{DeviceID: ""}, // malformed
		},
	}

	r, err := b.TripsHistory(context.Background(), batch)
	if err != nil {
		t.Fatalf("TripsHistory() error = %v", err)
	}
	if len(r.Rows) != 1 || r.Skipped != 1 {
		t.Fatalf("rows = %d skipped = %d, want 1/1", len(r.Rows), r.Skipped)
	}

	row := r.Rows[0]
	checks := map[string]string{
		"Distance":           "6.21",
		"WorkDistance":       "4.97",
		"MaximumSpeed":       "62.14",
		"DrivingDuration":    "00:45:00",
		"IdlingDuration":     "00:01:30",
		"StartTime":          "08:00:00 AM",
		"IsStartWork":        "1",
		"IsStopWork":         "0",
		"Latitude":           "10",
		"Longitude":          "10",
		"Location":           "1 Main St, Springfield", // outside every zone
		"LocationZones":      "",
		"DeviceSerialNumber": "G9-0001",
	}
	for col, want := range checks {
		if got := column(t, r, row, col); got != want {
			t.Errorf("%s = %q, want %q", col, got, want)
		}
	}
}

func TestTripsHistoryPreservesOrder(t *testing.T) {
	b := testBuilder(t)
	base := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	batch := &models.EventBatch{}
	for i := 0; i < 100; i++ {
		batch.Trips = append(batch.Trips, models.Trip{
			DeviceID:   "b1",
			Start:      base.Add(time.Duration(i) * 10 * time.Minute),
			Stop:       base.Add(time.Duration(i)*10*time.Minute + 8*time.Minute),
			DistanceKm: float64(i + 1),
		})
	}

	r, err := b.TripsHistory(context.Background(), batch)
	if err != nil {
		t.Fatalf("TripsHistory() error = %v", err)
	}
	if len(r.Rows) != 100 {
		t.Fatalf("rows = %d, want 100", len(r.Rows))
	}
	for i, row := range r.Rows {
		wantMiles := KmToMiles(float64(i + 1))
		if got := column(t, r, row, "Distance"); got != formatMiles(wantMiles) {
			t.Fatalf("row %d Distance = %q, want %q", i, got, formatMiles(wantMiles))
		}
	}
	first := column(t, r, r.Rows[0], "StartTime")
	last := column(t, r, r.Rows[99], "StartTime")
	if first != "12:00:00 AM" || last != "04:30:00 PM" {
		t.Errorf("start times = %q .. %q, want 12:00:00 AM .. 04:30:00 PM", first, last)
	}
}

func TestExceptionsDetails(t *testing.T) {
	b := testBuilder(t)
	eventStart := time.Date(2026, 3, 1, 13, 10, 0, 0, time.UTC)
	batch := &models.EventBatch{
		Exceptions: []models.ExceptionEvent{
			{
				DeviceID:   "b1",
				DriverID:   "u1",
				RuleID:     "r1",
				ActiveFrom: eventStart,
				Duration:   2 * time.Minute,
				DistanceKm: 1,
			},
		},
		Positions: []models.PositionLog{
			// Before the event: must not be picked.
			{DeviceID: "b1", Position: models.LatLon{Lat: 1, Lon: 1}, RecordedAt: eventStart.Add(-time.Minute)},
			// First at/after the event: the location source.
			{DeviceID: "b1", Position: models.LatLon{Lat: 42.5, Lon: -71.5}, RecordedAt: eventStart.Add(30 * time.Second)},
			{DeviceID: "b1", Position: models.LatLon{Lat: 2, Lon: 2}, RecordedAt: eventStart.Add(5 * time.Minute)},
		},
	}

	r, err := b.ExceptionsDetails(context.Background(), batch)
	if err != nil {
		t.Fatalf("ExceptionsDetails() error = %v", err)
	}
	if len(r.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(r.Rows))
	}

	row := r.Rows[0]
	checks := map[string]string{
		"RuleName":      "Harsh Braking",
		"Details":       "Braking over threshold",
		"Latitude":      "42.5",
		"Longitude":     "-71.5",
		"Location":      "Depot",
		"LocationZones": "Depot",
		"Duration":      "00:02:00",
		"Distance":      "0.62",
	}
	for col, want := range checks {
		if got := column(t, r, row, col); got != want {
			t.Errorf("%s = %q, want %q", col, got, want)
		}
	}
}

func TestEngineFaults(t *testing.T) {
	b := testBuilder(t)
	batch := &models.EventBatch{
		Faults: []models.FaultEvent{
			{
				DeviceID:     "b1",
				DiagnosticID: "d1",
				ControllerID: "c1",
				OccurredAt:   time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
			},
		},
		Snapshots: []models.StatusSnapshot{
			{DeviceID: "b1", DriverID: "u1"},
		},
	}

	r, err := b.EngineFaults(context.Background(), batch)
	if err != nil {
		t.Fatalf("EngineFaults() error = %v", err)
	}
	if len(r.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(r.Rows))
	}

	row := r.Rows[0]
	checks := map[string]string{
		"DiagnosticName":       "Coolant Temp",
		"SourceName":           "J1939",
		"DiagnosticCode":       "110",
		"ControllerName":       "Engine ECU",
		"Date":                 "03/01/2026",
		"Time":                 "09:00:00 AM",
		"DriverSerialNumber":   "KEY-77",
		"DriverEmployeeNumber": "E-1009",
	}
	for col, want := range checks {
		if got := column(t, r, row, col); got != want {
			t.Errorf("%s = %q, want %q", col, got, want)
		}
	}
}

func TestCSVDeterministic(t *testing.T) {
	b := testBuilder(t)
	batch := &models.EventBatch{
		Snapshots: []models.StatusSnapshot{
			{DeviceID: "b1", RecordedAt: time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)},
			{DeviceID: "b2", RecordedAt: time.Date(2026, 3, 1, 14, 1, 0, 0, time.UTC)},
		},
	}

	first, err := b.AssetStatus(context.Background(), batch)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := b.AssetStatus(context.Background(), batch)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}

	a, err := first.CSV()
	if err != nil {
		t.Fatalf("CSV(): %v", err)
	}
	c, err := second.CSV()
	if err != nil {
		t.Fatalf("CSV(): %v", err)
	}
	if !bytes.Equal(a, c) {
		t.Error("identical batches produced different CSV bytes")
	}
	if !strings.HasPrefix(string(a), "DeviceName,") {
		t.Errorf("CSV missing header row: %q", string(a[:40]))
	}
}
