// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fleetworks/fleetbridge/internal/config"
	"github.com/fleetworks/fleetbridge/internal/models"
	"github.com/fleetworks/fleetbridge/internal/transfer"
)

// fakeAPI implements source.API with canned data and failure knobs.
type fakeAPI struct {
	mu         sync.Mutex
	setCalls   []models.Device
	devicesErr error
	tripsErr   error
}

func (f *fakeAPI) Authenticate(context.Context) error { return nil }

func (f *fakeAPI) GetDevices(context.Context) ([]models.Device, error) {
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}
	return []models.Device{
		{ID: "b1", SerialNumber: "S1", Name: "Truck 1", Groups: []string{"g-fleet"}},
	}, nil
}
func (f *fakeAPI) GetGroups(context.Context) ([]models.Group, error) {
	return []models.Group{{ID: "g-fleet", Name: "Fleet", Mutable: true}}, nil
}
func (f *fakeAPI) GetUsers(context.Context) ([]models.User, error)             { return nil, nil }
func (f *fakeAPI) GetZones(context.Context) ([]models.Zone, error)             { return nil, nil }
func (f *fakeAPI) GetRules(context.Context) ([]models.Rule, error)             { return nil, nil }
func (f *fakeAPI) GetDiagnostics(context.Context) ([]models.Diagnostic, error) { return nil, nil }
func (f *fakeAPI) GetControllers(context.Context) ([]models.Controller, error) { return nil, nil }

func (f *fakeAPI) GetTrips(_ context.Context, w models.TimeWindow) ([]models.Trip, error) {
	if f.tripsErr != nil {
		return nil, f.tripsErr
	}
	return []models.Trip{
		{DeviceID: "b1", Start: w.From, Stop: w.To, DistanceKm: 5},
	}, nil
}
func (f *fakeAPI) GetExceptionEvents(context.Context, models.TimeWindow) ([]models.ExceptionEvent, error) {
	return nil, nil
}
func (f *fakeAPI) GetFaultEvents(context.Context, models.TimeWindow) ([]models.FaultEvent, error) {
	return nil, nil
}
func (f *fakeAPI) GetStatusSnapshots(context.Context) ([]models.StatusSnapshot, error) {
	return []models.StatusSnapshot{{DeviceID: "b1", RecordedAt: time.Now().UTC()}}, nil
}
func (f *fakeAPI) GetPositionLogs(context.Context, models.TimeWindow) ([]models.PositionLog, error) {
	return nil, nil
}
func (f *fakeAPI) GetStatusReadings(context.Context, string, models.TimeWindow) ([]models.StatusReading, error) {
	return nil, nil
}

func (f *fakeAPI) SetDevice(_ context.Context, d models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, d)
	return nil
}

func (f *fakeAPI) ReverseGeocode(context.Context, models.LatLon) (string, error) {
	return "somewhere", nil
}

func (f *fakeAPI) setCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.setCalls)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Sync.Tenant = "acme"
	cfg.Sync.Lookback = time.Hour
	cfg.Report.Timezone = "America/New_York"
	cfg.Report.ZoneWorkers = 2
	cfg.Geocode.MinInterval = time.Microsecond
	cfg.Reconcile.RetryAttempts = 1
	cfg.Reconcile.RetryDelay = time.Millisecond
	cfg.Reconcile.Workers = 2
	cfg.Transfer.InboundFile = "fleetinfo.csv"
	return cfg
}

func newTestRunner(t *testing.T, api *fakeAPI, root string) *Runner {
	t.Helper()
	r, err := New(testConfig(), api, transfer.NewLocalGateway(root))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r.now = func() time.Time {
		return time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	}
	return r
}

func TestRunFullCycle(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "import"), 0o755); err != nil {
		t.Fatal(err)
	}
	inbound := "Serial,ID,VIN,Name,Groups\nS1,b1,,Truck One,Fleet\n"
	if err := os.WriteFile(filepath.Join(root, "import", "fleetinfo.csv"), []byte(inbound), 0o644); err != nil {
		t.Fatal(err)
	}

	api := &fakeAPI{}
	r := newTestRunner(t, api, root)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Failed() {
		t.Fatalf("run failed: outbound=%q inbound=%q", summary.OutboundErr, summary.InboundErr)
	}

	// All four reports pushed with deterministic names.
	entries, err := os.ReadDir(filepath.Join(root, "export"))
	if err != nil {
		t.Fatalf("readdir export: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("export dir has %d files, want 4", len(entries))
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "acme_") || !strings.HasSuffix(e.Name(), "_20260301T140000Z.csv") {
			t.Errorf("unexpected report file name %q", e.Name())
		}
	}

	if got := summary.Reports["TripsHistory"].Rows; got != 1 {
		t.Errorf("TripsHistory rows = %d, want 1", got)
	}
	if got := summary.Reports["AssetStatus"].Rows; got != 1 {
		t.Errorf("AssetStatus rows = %d, want 1", got)
	}

	// Inbound record renamed the device.
	if summary.Reconcile.Applied != 1 {
		t.Errorf("reconcile = %+v, want 1 applied", summary.Reconcile)
	}
	if api.setCallCount() != 1 {
		t.Errorf("SetDevice called %d times, want 1", api.setCallCount())
	}
	if summary.Duration < 0 {
		t.Errorf("duration = %v", summary.Duration)
	}
}

func TestRunNoInboundFile(t *testing.T) {
	api := &fakeAPI{}
	r := newTestRunner(t, api, t.TempDir())

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Failed() {
		t.Fatalf("run failed: %q / %q", summary.OutboundErr, summary.InboundErr)
	}
	if summary.Reconcile.Parsed != 0 {
		t.Errorf("reconcile ran without an inbound file: %+v", summary.Reconcile)
	}
}

func TestRunOutboundFailureDoesNotStopInbound(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "import"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "import", "fleetinfo.csv"),
		[]byte("S1,b1,,Renamed,\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	api := &fakeAPI{tripsErr: errors.New("trips endpoint down")}
	r := newTestRunner(t, api, root)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.OutboundErr == "" {
		t.Error("outbound error not recorded")
	}
	if summary.InboundErr != "" {
		t.Errorf("inbound half failed too: %q", summary.InboundErr)
	}
	if summary.Reconcile.Applied != 1 {
		t.Errorf("inbound half did not run: %+v", summary.Reconcile)
	}
	if !summary.Failed() {
		t.Error("summary.Failed() = false with an outbound error")
	}
}

func TestRunCacheLoadFailureStopsBothHalves(t *testing.T) {
	api := &fakeAPI{devicesErr: models.ErrSourceUnavailable}
	r := newTestRunner(t, api, t.TempDir())

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v (context was not cancelled)", err)
	}
	if summary.OutboundErr == "" || summary.InboundErr == "" {
		t.Errorf("both halves should fail on cache load: outbound=%q inbound=%q",
			summary.OutboundErr, summary.InboundErr)
	}
	if api.setCallCount() != 0 {
		t.Error("SetDevice called despite failed cache load")
	}
}
