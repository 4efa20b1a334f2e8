// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package models

import "strings"

// ChangeRecord is one row of the inbound change file produced by the
// maintenance system. Wire format is delimited text with header
// `Serial,ID,VIN,Name,Groups`; Groups is a pipe-delimited ordered list of
// group names. Matching against group names is order-insensitive, but the
// original order is preserved for display and reporting.
type ChangeRecord struct {
	Serial   string   `validate:"required"`
	DeviceID string   `validate:"omitempty"`
	VIN      string   `validate:"omitempty,max=32"`
	Name     string   `validate:"omitempty,max=128"`
	Groups   []string `validate:"dive,required"`

	// Line is the 1-based source line in the inbound file, kept for
	// reporting outcomes back to operators.
	Line int
}

// SerialKey returns the case-folded serial used for matching and for
// duplicate collapse. Serial matching is case-insensitive.
func (c ChangeRecord) SerialKey() string {
	return strings.ToLower(strings.TrimSpace(c.Serial))
}

// GroupsDisplay renders the target groups in transport form.
func (c ChangeRecord) GroupsDisplay() string {
	return strings.Join(c.Groups, "|")
}
