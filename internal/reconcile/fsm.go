// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package reconcile

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/fleetworks/fleetbridge/internal/models"
)

// Record lifecycle states. Unmatched, rejected, superseded, applied, and
// failed are terminal.
const (
	StateParsed     = "parsed"
	StateMatched    = "matched"
	StateUnmatched  = "unmatched"
	StateAuthorized = "authorized"
	StateRejected   = "rejected"
	StateApplied    = "applied"
	StateFailed     = "failed"
	StateSuperseded = "superseded"
)

// Lifecycle events.
const (
	eventMatch     = "match"
	eventMiss      = "miss"
	eventSupersede = "supersede"
	eventAuthorize = "authorize"
	eventReject    = "reject"
	eventApply     = "apply"
	eventFail      = "fail"
)

// tracked is one change record moving through the lifecycle. Reason holds
// the human-readable explanation for terminal reject states.
type tracked struct {
	rec    models.ChangeRecord
	sm     *fsm.FSM
	device models.Device // set once matched
	target models.Device // desired device state, set once authorized
	noop   bool          // authorized but nothing to write
	reason string
}

func newTracked(rec models.ChangeRecord) *tracked {
	return &tracked{
		rec: rec,
		sm: fsm.NewFSM(
			StateParsed,
			fsm.Events{
				{Name: eventMatch, Src: []string{StateParsed}, Dst: StateMatched},
				{Name: eventMiss, Src: []string{StateParsed}, Dst: StateUnmatched},
				{Name: eventSupersede, Src: []string{StateMatched}, Dst: StateSuperseded},
				{Name: eventAuthorize, Src: []string{StateMatched}, Dst: StateAuthorized},
				{Name: eventReject, Src: []string{StateMatched}, Dst: StateRejected},
				{Name: eventApply, Src: []string{StateAuthorized}, Dst: StateApplied},
				{Name: eventFail, Src: []string{StateAuthorized}, Dst: StateFailed},
			},
			fsm.Callbacks{},
		),
	}
}

// transition fires an event and panics on an illegal transition. The engine
// drives every record through a fixed sequence, so an illegal transition is
// a programming error, not an input error.
func (t *tracked) transition(ctx context.Context, event string) {
	if err := t.sm.Event(ctx, event); err != nil {
		panic("reconcile: illegal transition " + t.sm.Current() + " -> " + event + ": " + err.Error())
	}
}

// State returns the record's current lifecycle state.
func (t *tracked) State() string {
	return t.sm.Current()
}
