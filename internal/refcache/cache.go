// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

// Package refcache holds an in-memory snapshot of the tenant's reference
// entities: devices, groups, users, zones, rules, diagnostics, and
// controllers. A snapshot is loaded atomically at the start of a run and
// read concurrently by the report builders and the reconciler; a failed load
// leaves any previous snapshot untouched.
package refcache

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fleetworks/fleetbridge/internal/logging"
	"github.com/fleetworks/fleetbridge/internal/models"
)

// Fetcher is the subset of the telemetry source API the cache loads from.
type Fetcher interface {
	GetDevices(ctx context.Context) ([]models.Device, error)
	GetGroups(ctx context.Context) ([]models.Group, error)
	GetUsers(ctx context.Context) ([]models.User, error)
	GetZones(ctx context.Context) ([]models.Zone, error)
	GetRules(ctx context.Context) ([]models.Rule, error)
	GetDiagnostics(ctx context.Context) ([]models.Diagnostic, error)
	GetControllers(ctx context.Context) ([]models.Controller, error)
}

// snapshot is one immutable generation of reference data. All lookups index
// into a snapshot, so a Load that swaps generations never tears a reader.
type snapshot struct {
	devicesByID     map[string]models.Device
	devicesBySerial map[string]models.Device
	groupsByID      map[string]models.Group
	groupsByName    map[string]models.Group
	usersByID       map[string]models.User
	usersByKey      map[string]models.User
	zones           []models.Zone
	rulesByID       map[string]models.Rule
	diagnosticsByID map[string]models.Diagnostic
	controllersByID map[string]models.Controller
}

// Cache is a concurrency-safe view over the most recent snapshot.
type Cache struct {
	mu   sync.RWMutex
	snap *snapshot
}

// New returns an empty cache. Lookups before the first successful Load
// behave as if the tenant had no entities.
func New() *Cache {
	return &Cache{snap: newSnapshot()}
}

func newSnapshot() *snapshot {
	return &snapshot{
		devicesByID:     make(map[string]models.Device),
		devicesBySerial: make(map[string]models.Device),
		groupsByID:      make(map[string]models.Group),
		groupsByName:    make(map[string]models.Group),
		usersByID:       make(map[string]models.User),
		usersByKey:      make(map[string]models.User),
		rulesByID:       make(map[string]models.Rule),
		diagnosticsByID: make(map[string]models.Diagnostic),
		controllersByID: make(map[string]models.Controller),
	}
}

// Load fetches all reference entities concurrently and swaps in a new
// snapshot only if every fetch succeeded. On error the previous snapshot
// stays active.
func (c *Cache) Load(ctx context.Context, f Fetcher) error {
	log := logging.Component("refcache")

	var (
		devices     []models.Device
		groups      []models.Group
		users       []models.User
		zones       []models.Zone
		rules       []models.Rule
		diagnostics []models.Diagnostic
		controllers []models.Controller
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { devices, err = f.GetDevices(ctx); return })
	g.Go(func() (err error) { groups, err = f.GetGroups(ctx); return })
	g.Go(func() (err error) { users, err = f.GetUsers(ctx); return })
	g.Go(func() (err error) { zones, err = f.GetZones(ctx); return })
	g.Go(func() (err error) { rules, err = f.GetRules(ctx); return })
	g.Go(func() (err error) { diagnostics, err = f.GetDiagnostics(ctx); return })
	g.Go(func() (err error) { controllers, err = f.GetControllers(ctx); return })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}

	snap := newSnapshot()
	for _, d := range devices {
		snap.devicesByID[d.ID] = d
		if serial := strings.ToLower(strings.TrimSpace(d.SerialNumber)); serial != "" {
			snap.devicesBySerial[serial] = d
		}
	}
	for _, grp := range groups {
		snap.groupsByID[grp.ID] = grp
		if name := strings.ToLower(strings.TrimSpace(grp.Name)); name != "" {
			snap.groupsByName[name] = grp
		}
	}
	for _, u := range users {
		snap.usersByID[u.ID] = u
		if key := strings.ToLower(strings.TrimSpace(u.KeySerialNumber)); key != "" {
			snap.usersByKey[key] = u
		}
	}
	snap.zones = zones
	for _, r := range rules {
		snap.rulesByID[r.ID] = r
	}
	for _, d := range diagnostics {
		snap.diagnosticsByID[d.ID] = d
	}
	for _, ctrl := range controllers {
		snap.controllersByID[ctrl.ID] = ctrl
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	log.Info().
		Int("devices", len(devices)).
		Int("groups", len(groups)).
		Int("users", len(users)).
		Int("zones", len(zones)).
		Int("rules", len(rules)).
		Msg("reference cache loaded")
	return nil
}

func (c *Cache) current() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// DeviceByID returns the device with the given provider id.
func (c *Cache) DeviceByID(id string) (models.Device, bool) {
	d, ok := c.current().devicesByID[id]
	return d, ok
}

// DeviceBySerial returns the device with the given hardware serial. Matching
// is case-insensitive and ignores surrounding whitespace.
func (c *Cache) DeviceBySerial(serial string) (models.Device, bool) {
	d, ok := c.current().devicesBySerial[strings.ToLower(strings.TrimSpace(serial))]
	return d, ok
}

// Devices returns every cached device in unspecified order.
func (c *Cache) Devices() []models.Device {
	snap := c.current()
	out := make([]models.Device, 0, len(snap.devicesByID))
	for _, d := range snap.devicesByID {
		out = append(out, d)
	}
	return out
}

// GroupByID returns the group with the given provider id.
func (c *Cache) GroupByID(id string) (models.Group, bool) {
	g, ok := c.current().groupsByID[id]
	return g, ok
}

// GroupByName returns the group with the given display name,
// case-insensitively.
func (c *Cache) GroupByName(name string) (models.Group, bool) {
	g, ok := c.current().groupsByName[strings.ToLower(strings.TrimSpace(name))]
	return g, ok
}

// GroupName returns the display name for a group id, or the id itself when
// the group is unknown.
func (c *Cache) GroupName(id string) string {
	if g, ok := c.GroupByID(id); ok {
		return g.Name
	}
	return id
}

// GroupMutable reports whether the group, or any of its ancestors, is
// flagged mutable. Unknown groups are immutable. The walk is bounded by the
// number of cached groups so a corrupted parent cycle cannot hang a run.
func (c *Cache) GroupMutable(id string) bool {
	snap := c.current()
	limit := len(snap.groupsByID) + 1
	for cur := id; cur != "" && limit > 0; limit-- {
		g, ok := snap.groupsByID[cur]
		if !ok {
			return false
		}
		if g.Mutable {
			return true
		}
		cur = g.Parent
	}
	return false
}

// DeviceMutable reports whether any of the device's direct groups is
// mutable. Devices outside every mutable subtree may not be reassigned.
func (c *Cache) DeviceMutable(deviceID string) bool {
	d, ok := c.DeviceByID(deviceID)
	if !ok {
		return false
	}
	for _, gid := range d.Groups {
		if c.GroupMutable(gid) {
			return true
		}
	}
	return false
}

// UserByID returns the user with the given provider id.
func (c *Cache) UserByID(id string) (models.User, bool) {
	u, ok := c.current().usersByID[id]
	return u, ok
}

// DriverByKeySerial returns the user carrying the given driver key serial,
// case-insensitively.
func (c *Cache) DriverByKeySerial(serial string) (models.User, bool) {
	u, ok := c.current().usersByKey[strings.ToLower(strings.TrimSpace(serial))]
	return u, ok
}

// Zones returns the cached zone list. Callers must not mutate it.
func (c *Cache) Zones() []models.Zone {
	return c.current().zones
}

// RuleByID returns the rule with the given id.
func (c *Cache) RuleByID(id string) (models.Rule, bool) {
	r, ok := c.current().rulesByID[id]
	return r, ok
}

// RuleName returns the display name for a rule id, or the id itself when
// unknown.
func (c *Cache) RuleName(id string) string {
	if r, ok := c.current().rulesByID[id]; ok {
		return r.Name
	}
	return id
}

// DiagnosticByID returns the diagnostic with the given id.
func (c *Cache) DiagnosticByID(id string) (models.Diagnostic, bool) {
	d, ok := c.current().diagnosticsByID[id]
	return d, ok
}

// DiagnosticName returns the display name for a diagnostic id, or the id
// itself when unknown.
func (c *Cache) DiagnosticName(id string) string {
	if d, ok := c.current().diagnosticsByID[id]; ok {
		return d.Name
	}
	return id
}

// ControllerName returns the display name for a controller id, or the id
// itself when unknown.
func (c *Cache) ControllerName(id string) string {
	if ctrl, ok := c.current().controllersByID[id]; ok {
		return ctrl.Name
	}
	return id
}
