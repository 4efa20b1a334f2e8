// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetworks/fleetbridge/internal/logging"
	"github.com/fleetworks/fleetbridge/internal/metrics"
	"github.com/fleetworks/fleetbridge/internal/models"
	"github.com/fleetworks/fleetbridge/internal/refcache"
	"github.com/fleetworks/fleetbridge/internal/validation"
)

// DeviceWriter is the single write operation the engine needs from the
// telemetry source.
type DeviceWriter interface {
	SetDevice(ctx context.Context, device models.Device) error
}

// Engine reconciles an inbound change file against the reference cache and
// writes accepted changes back to the source.
type Engine struct {
	cache  *refcache.Cache
	writer DeviceWriter

	retryAttempts int
	retryDelay    time.Duration
	workers       int
}

// New creates a reconciliation engine. retryAttempts bounds write retries
// per record; workers bounds concurrent device writes.
func New(cache *refcache.Cache, writer DeviceWriter, retryAttempts int, retryDelay time.Duration, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		cache:         cache,
		writer:        writer,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		workers:       workers,
	}
}

// Reconcile parses the change file and drives every record to a terminal
// state. The returned counts always describe all records, including the
// ones still pending when ctx was cancelled; those are counted as failed.
func (e *Engine) Reconcile(ctx context.Context, data []byte) (models.ReconcileCounts, error) {
	log := logging.Component("reconcile")

	parsed := ParseChangeFile(data)
	records := make([]*tracked, 0, len(parsed))
	for _, p := range parsed {
		t := newTracked(p.Record)
		if p.Err != nil {
			t.reason = p.Err.Error()
			t.transition(ctx, eventMiss)
		}
		records = append(records, t)
	}

	e.match(ctx, records)
	e.collapse(ctx, records)
	e.authorize(ctx, records)
	err := e.apply(ctx, records)

	counts := models.ReconcileCounts{Parsed: len(records)}
	for _, t := range records {
		switch t.State() {
		case StateUnmatched:
			counts.Unmatched++
		case StateRejected:
			counts.Matched++
			counts.Rejected++
		case StateSuperseded:
			counts.Matched++
			counts.Superseded++
		case StateApplied:
			counts.Matched++
			counts.Applied++
		default:
			// Failed, or still authorized because the batch was cancelled.
			counts.Matched++
			counts.Failed++
		}
	}
	for _, t := range records {
		if t.reason != "" && t.State() != StateApplied {
			log.Warn().
				Int("line", t.rec.Line).
				Str("serial", t.rec.Serial).
				Str("state", t.State()).
				Msg(t.reason)
		}
		metrics.ReconcileOutcomes.WithLabelValues(t.State()).Inc()
	}

	log.Info().
		Int("parsed", counts.Parsed).
		Int("applied", counts.Applied).
		Int("rejected", counts.Rejected).
		Int("unmatched", counts.Unmatched).
		Int("superseded", counts.Superseded).
		Int("failed", counts.Failed).
		Msg("reconciliation complete")
	return counts, err
}

// match resolves each record to a device: serial first, device id as the
// fallback. Record field constraints are validated here too, so an
// oversized VIN surfaces as unmatched-with-reason rather than a bad write.
func (e *Engine) match(ctx context.Context, records []*tracked) {
	for _, t := range records {
		if t.State() != StateParsed {
			continue
		}
		if err := validation.ValidateStruct(&t.rec); err != nil {
			t.reason = fmt.Sprintf("%v: line %d: %v", models.ErrDataQuality, t.rec.Line, err)
			t.transition(ctx, eventMiss)
			continue
		}

		device, ok := e.cache.DeviceBySerial(t.rec.Serial)
		if !ok && t.rec.DeviceID != "" {
			device, ok = e.cache.DeviceByID(t.rec.DeviceID)
		}
		if !ok {
			t.reason = fmt.Sprintf("line %d: no device for serial %q", t.rec.Line, t.rec.Serial)
			t.transition(ctx, eventMiss)
			continue
		}
		t.device = device
		t.transition(ctx, eventMatch)
	}
}

// collapse supersedes all but the last record targeting the same device.
// File order is transport order, so the last occurrence is the freshest
// statement of intent.
func (e *Engine) collapse(ctx context.Context, records []*tracked) {
	last := make(map[string]*tracked)
	for _, t := range records {
		if t.State() != StateMatched {
			continue
		}
		if prev, ok := last[t.device.ID]; ok {
			prev.reason = fmt.Sprintf("line %d: superseded by line %d", prev.rec.Line, t.rec.Line)
			prev.transition(ctx, eventSupersede)
		}
		last[t.device.ID] = t
	}
}

// authorize checks group resolution and mutability, then computes the
// desired device state. A record is authorized or rejected atomically:
// one bad group rejects the whole record.
func (e *Engine) authorize(ctx context.Context, records []*tracked) {
	for _, t := range records {
		if t.State() != StateMatched {
			continue
		}

		targetGroups := make([]string, 0, len(t.rec.Groups))
		rejected := false
		for _, name := range t.rec.Groups {
			g, ok := e.cache.GroupByName(name)
			if !ok {
				t.reason = fmt.Sprintf("line %d: unknown group %q", t.rec.Line, name)
				rejected = true
				break
			}
			if !e.cache.GroupMutable(g.ID) {
				t.reason = fmt.Sprintf("%v: line %d: group %q is not mutable",
					models.ErrAuthorizationDenied, t.rec.Line, name)
				rejected = true
				break
			}
			targetGroups = append(targetGroups, g.ID)
		}
		if rejected {
			t.transition(ctx, eventReject)
			continue
		}

		target := t.device
		if t.rec.Name != "" {
			target.Name = t.rec.Name
		}
		if t.rec.VIN != "" {
			target.VIN = t.rec.VIN
		}
		if len(t.rec.Groups) > 0 {
			target.Groups = e.mergeGroups(t.device.Groups, targetGroups)
		}

		membershipChanged := !sameGroupSet(t.device.Groups, target.Groups)
		if membershipChanged && !e.cache.DeviceMutable(t.device.ID) {
			t.reason = fmt.Sprintf("%v: line %d: device %s is outside every mutable subtree",
				models.ErrAuthorizationDenied, t.rec.Line, t.device.ID)
			t.transition(ctx, eventReject)
			continue
		}

		t.target = target
		t.noop = !membershipChanged && target.Name == t.device.Name && target.VIN == t.device.VIN
		t.transition(ctx, eventAuthorize)
	}
}

// mergeGroups keeps the device's non-mutable current groups and replaces the
// mutable ones with the requested set. Management may only rearrange devices
// within the subtrees it owns; system groups stay attached.
func (e *Engine) mergeGroups(current, requested []string) []string {
	merged := make([]string, 0, len(current)+len(requested))
	seen := make(map[string]bool)
	for _, gid := range current {
		if !e.cache.GroupMutable(gid) && !seen[gid] {
			merged = append(merged, gid)
			seen[gid] = true
		}
	}
	for _, gid := range requested {
		if !seen[gid] {
			merged = append(merged, gid)
			seen[gid] = true
		}
	}
	return merged
}

// sameGroupSet compares group membership ignoring order.
func sameGroupSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// apply writes authorized records. Records target distinct devices after
// collapse, so they apply concurrently up to the worker bound. Returns the
// context error if the batch was cancelled.
func (e *Engine) apply(ctx context.Context, records []*tracked) error {
	log := logging.Component("reconcile")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, t := range records {
		if t.State() != StateAuthorized {
			continue
		}
		g.Go(func() error {
			if t.noop {
				log.Debug().Str("device", t.device.ID).Msg("no changes, skipping write")
				t.transition(gctx, eventApply)
				return nil
			}
			if err := e.writeWithRetry(gctx, t.target); err != nil {
				t.reason = fmt.Sprintf("line %d: %v", t.rec.Line, err)
				t.transition(gctx, eventFail)
				// A failed record is terminal for itself only; keep applying
				// the rest unless the context is gone.
				return gctx.Err()
			}
			t.transition(gctx, eventApply)
			log.Info().
				Str("device", t.device.ID).
				Str("serial", t.rec.Serial).
				Str("groups", strings.Join(t.target.Groups, ",")).
				Msg("device updated")
			return nil
		})
	}
	return g.Wait()
}

// writeWithRetry performs one device write with bounded backoff. A single
// write call is never interrupted; cancellation takes effect between
// attempts.
func (e *Engine) writeWithRetry(ctx context.Context, device models.Device) error {
	var lastErr error
	for attempt := 0; attempt <= e.retryAttempts; attempt++ {
		if attempt > 0 {
			metrics.DeviceWriteRetries.Inc()
			select {
			case <-time.After(e.retryDelay * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = e.writer.SetDevice(ctx, device); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("write device %s after %d attempts: %w", device.ID, e.retryAttempts+1, lastErr)
}
