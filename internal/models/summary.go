// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReportCount is the outcome of one report build.
type ReportCount struct {
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"` // malformed events dropped, DataQuality
}

// ReconcileCounts tallies change-record outcomes for one run.
type ReconcileCounts struct {
	Parsed     int `json:"parsed"`
	Matched    int `json:"matched"`
	Unmatched  int `json:"unmatched"`
	Rejected   int `json:"rejected"`
	Applied    int `json:"applied"`
	Failed     int `json:"failed"`
	Superseded int `json:"superseded"`
}

// RunSummary is emitted once per run, on success and on failure alike.
type RunSummary struct {
	RunID     uuid.UUID              `json:"run_id"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration"`
	Window    TimeWindow             `json:"window"`
	Reports   map[string]ReportCount `json:"reports"`
	Reconcile ReconcileCounts        `json:"reconcile"`

	// OutboundErr / InboundErr record the fatal error of each half of the
	// run, if any. The halves are independent: one failing does not stop
	// the other unless the reference cache itself could not be loaded.
	OutboundErr string `json:"outbound_error,omitempty"`
	InboundErr  string `json:"inbound_error,omitempty"`
}

// NewRunSummary creates an empty summary stamped with a fresh run id.
func NewRunSummary(started time.Time, window TimeWindow) *RunSummary {
	return &RunSummary{
		RunID:     uuid.New(),
		StartedAt: started,
		Window:    window,
		Reports:   make(map[string]ReportCount),
	}
}

// Failed reports whether either half of the run hit a fatal error.
// This drives the process exit code.
func (s *RunSummary) Failed() bool {
	return s.OutboundErr != "" || s.InboundErr != ""
}

// String renders the human-readable one-run summary printed at run end.
func (s *RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s", s.RunID, s.Duration.Round(time.Millisecond))

	names := make([]string, 0, len(s.Reports))
	for name := range s.Reports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rc := s.Reports[name]
		fmt.Fprintf(&b, "\n  report %s: %d rows", name, rc.Rows)
		if rc.Skipped > 0 {
			fmt.Fprintf(&b, " (%d skipped)", rc.Skipped)
		}
	}

	r := s.Reconcile
	fmt.Fprintf(&b, "\n  reconcile: parsed=%d matched=%d unmatched=%d rejected=%d applied=%d failed=%d superseded=%d",
		r.Parsed, r.Matched, r.Unmatched, r.Rejected, r.Applied, r.Failed, r.Superseded)

	if s.OutboundErr != "" {
		fmt.Fprintf(&b, "\n  outbound failed: %s", s.OutboundErr)
	}
	if s.InboundErr != "" {
		fmt.Fprintf(&b, "\n  inbound failed: %s", s.InboundErr)
	}
	return b.String()
}
