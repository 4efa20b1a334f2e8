// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fleetworks/fleetbridge/internal/models"
	"github.com/fleetworks/fleetbridge/internal/refcache"
)

type fixtureFetcher struct{}

func (fixtureFetcher) GetDevices(context.Context) ([]models.Device, error) {
	return []models.Device{
		// b1 sits in a mutable subtree plus a system group.
		{ID: "b1", SerialNumber: "S1", Name: "Truck 1", VIN: "VIN1", Groups: []string{"g-a", "g-sys"}},
		// b2 sits only in the immutable system group.
		{ID: "b2", SerialNumber: "S2", Name: "Truck 2", Groups: []string{"g-sys"}},
	}, nil
}
func (fixtureFetcher) GetGroups(context.Context) ([]models.Group, error) {
	return []models.Group{
		{ID: "g-root", Name: "Company"},
		{ID: "g-fleet", Name: "Fleet", Parent: "g-root", Mutable: true},
		{ID: "g-a", Name: "Region A", Parent: "g-fleet"},
		{ID: "g-b", Name: "Region B", Parent: "g-fleet"},
		{ID: "g-sys", Name: "System", Parent: "g-root"},
	}, nil
}
func (fixtureFetcher) GetUsers(context.Context) ([]models.User, error)             { return nil, nil }
func (fixtureFetcher) GetZones(context.Context) ([]models.Zone, error)             { return nil, nil }
func (fixtureFetcher) GetRules(context.Context) ([]models.Rule, error)             { return nil, nil }
func (fixtureFetcher) GetDiagnostics(context.Context) ([]models.Diagnostic, error) { return nil, nil }
func (fixtureFetcher) GetControllers(context.Context) ([]models.Controller, error) { return nil, nil }

// fakeWriter records SetDevice calls and can fail the first failN calls.
type fakeWriter struct {
	mu      sync.Mutex
	calls   []models.Device
	failN   int
	failErr error
}

func (w *fakeWriter) SetDevice(_ context.Context, d models.Device) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, d)
	if w.failN > 0 {
		w.failN--
		if w.failErr != nil {
			return w.failErr
		}
		return errors.New("write failed")
	}
	return nil
}

func (w *fakeWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func (w *fakeWriter) lastCall(t *testing.T) models.Device {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.calls) == 0 {
		t.Fatal("no SetDevice calls recorded")
	}
	return w.calls[len(w.calls)-1]
}

func testEngine(t *testing.T, w *fakeWriter) *Engine {
	t.Helper()
	cache := refcache.New()
	if err := cache.Load(context.Background(), fixtureFetcher{}); err != nil {
		t.Fatalf("cache load: %v", err)
	}
	return New(cache, w, 2, time.Millisecond, 2)
}

func TestParseChangeFile(t *testing.T) {
	data := []byte("Serial,ID,VIN,Name,Groups\n" +
		"S1,b1,VIN9,Truck One,Region A|Region B\n" +
		"\n" +
		"S2,,,,\n" +
		"bad,line,with,too,many,columns\n" +
		",b3,,,Region A\n")

	records := ParseChangeFile(data)
	if len(records) != 4 {
		t.Fatalf("parsed %d records, want 4", len(records))
	}

	first := records[0]
	if first.Err != nil {
		t.Fatalf("record 0 error = %v", first.Err)
	}
	if first.Record.Serial != "S1" || first.Record.Name != "Truck One" {
		t.Errorf("record 0 = %+v", first.Record)
	}
	if len(first.Record.Groups) != 2 || first.Record.Groups[1] != "Region B" {
		t.Errorf("record 0 groups = %v", first.Record.Groups)
	}

	if records[1].Err != nil {
		t.Errorf("record 1 (empty optional fields) error = %v", records[1].Err)
	}
	if records[2].Err == nil {
		t.Error("record 2 (wrong column count) expected error")
	}
	if !errors.Is(records[2].Err, models.ErrDataQuality) {
		t.Errorf("record 2 error %v does not wrap ErrDataQuality", records[2].Err)
	}
	if records[3].Err == nil {
		t.Error("record 3 (missing serial) expected error")
	}
}

func TestReconcileApply(t *testing.T) {
	w := &fakeWriter{}
	e := testEngine(t, w)

	// Move b1 to Region B; the immutable system group must survive.
	counts, err := e.Reconcile(context.Background(), []byte("s1,b1,VIN-NEW,Truck One,Region B\n"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Applied != 1 || counts.Rejected != 0 || counts.Unmatched != 0 {
		t.Fatalf("counts = %+v", counts)
	}
	if w.callCount() != 1 {
		t.Fatalf("SetDevice called %d times, want 1", w.callCount())
	}

	got := w.lastCall(t)
	if got.ID != "b1" || got.Name != "Truck One" || got.VIN != "VIN-NEW" {
		t.Errorf("written device = %+v", got)
	}
	groups := append([]string(nil), got.Groups...)
	sort.Strings(groups)
	want := []string{"g-b", "g-sys"}
	if len(groups) != 2 || groups[0] != want[0] || groups[1] != want[1] {
		t.Errorf("written groups = %v, want %v", got.Groups, want)
	}
}

func TestReconcileNoOpSkipsWrite(t *testing.T) {
	w := &fakeWriter{}
	e := testEngine(t, w)

	// Same name, same VIN, same effective groups.
	counts, err := e.Reconcile(context.Background(), []byte("S1,b1,VIN1,Truck 1,Region A\n"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Applied != 1 {
		t.Fatalf("counts = %+v, want 1 applied", counts)
	}
	if w.callCount() != 0 {
		t.Errorf("SetDevice called %d times for a no-op, want 0", w.callCount())
	}
}

func TestReconcileRejectsImmutableGroup(t *testing.T) {
	w := &fakeWriter{}
	e := testEngine(t, w)

	counts, err := e.Reconcile(context.Background(), []byte("S1,b1,,,System\n"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Rejected != 1 || counts.Applied != 0 {
		t.Fatalf("counts = %+v, want 1 rejected", counts)
	}
	if w.callCount() != 0 {
		t.Error("SetDevice called for rejected record")
	}
}

func TestReconcileRejectsUnknownGroup(t *testing.T) {
	w := &fakeWriter{}
	e := testEngine(t, w)

	counts, err := e.Reconcile(context.Background(), []byte("S1,b1,,,Region A|Nowhere\n"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Rejected != 1 {
		t.Fatalf("counts = %+v, want 1 rejected", counts)
	}
}

func TestReconcileRejectsImmutableDevice(t *testing.T) {
	w := &fakeWriter{}
	e := testEngine(t, w)

	// b2 has no mutable group today, so membership changes are denied.
	counts, err := e.Reconcile(context.Background(), []byte("S2,b2,,,Region A\n"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Rejected != 1 || counts.Applied != 0 {
		t.Fatalf("counts = %+v, want 1 rejected", counts)
	}
}

func TestReconcileImmutableDeviceNameOnlyChange(t *testing.T) {
	w := &fakeWriter{}
	e := testEngine(t, w)

	// Renames without a membership change do not require device mutability.
	counts, err := e.Reconcile(context.Background(), []byte("S2,b2,,Truck Two Renamed,\n"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Applied != 1 {
		t.Fatalf("counts = %+v, want 1 applied", counts)
	}
	if w.lastCall(t).Name != "Truck Two Renamed" {
		t.Errorf("written name = %q", w.lastCall(t).Name)
	}
}

func TestReconcileUnmatchedSerial(t *testing.T) {
	w := &fakeWriter{}
	e := testEngine(t, w)

	counts, err := e.Reconcile(context.Background(), []byte("NOPE,,,Ghost,\n"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Unmatched != 1 || counts.Matched != 0 {
		t.Fatalf("counts = %+v, want 1 unmatched", counts)
	}
}

func TestReconcileMatchesByDeviceIDFallback(t *testing.T) {
	w := &fakeWriter{}
	e := testEngine(t, w)

	// Serial is unknown but the id column still identifies the device.
	counts, err := e.Reconcile(context.Background(), []byte("OLD-SERIAL,b1,,Truck One,\n"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Applied != 1 {
		t.Fatalf("counts = %+v, want 1 applied via id fallback", counts)
	}
}

func TestReconcileDuplicateLastWins(t *testing.T) {
	w := &fakeWriter{}
	e := testEngine(t, w)

	data := []byte("S1,b1,,First Name,Region A\n" +
		"s1,b1,,Second Name,Region B\n")
	counts, err := e.Reconcile(context.Background(), data)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Superseded != 1 || counts.Applied != 1 {
		t.Fatalf("counts = %+v, want 1 superseded + 1 applied", counts)
	}
	if w.callCount() != 1 {
		t.Fatalf("SetDevice called %d times, want 1", w.callCount())
	}
	if got := w.lastCall(t); got.Name != "Second Name" {
		t.Errorf("applied name = %q, want the last occurrence", got.Name)
	}
}

func TestReconcileWriteRetry(t *testing.T) {
	w := &fakeWriter{failN: 2}
	e := testEngine(t, w)

	counts, err := e.Reconcile(context.Background(), []byte("S1,b1,,Retried,Region B\n"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Applied != 1 || counts.Failed != 0 {
		t.Fatalf("counts = %+v, want applied after retries", counts)
	}
	if w.callCount() != 3 {
		t.Errorf("SetDevice called %d times, want 3", w.callCount())
	}
}

func TestReconcileWriteFailureExhaustsRetries(t *testing.T) {
	w := &fakeWriter{failN: 10, failErr: models.ErrTransportFailure}
	e := testEngine(t, w)

	counts, err := e.Reconcile(context.Background(), []byte("S1,b1,,Doomed,Region B\n"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Failed != 1 || counts.Applied != 0 {
		t.Fatalf("counts = %+v, want 1 failed", counts)
	}
	if w.callCount() != 3 {
		t.Errorf("SetDevice called %d times, want 3 (bounded)", w.callCount())
	}
}

func TestReconcileEmptyFile(t *testing.T) {
	w := &fakeWriter{}
	e := testEngine(t, w)

	counts, err := e.Reconcile(context.Background(), []byte(""))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Parsed != 0 {
		t.Errorf("counts = %+v, want all zero", counts)
	}
}
