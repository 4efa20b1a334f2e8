// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package models

import "errors"

// Error taxonomy for one synchronization run.
//
// Classification decides propagation: SourceUnavailable and TransportFailure
// are fatal for the stage that hit them and bubble to the run boundary;
// DataQuality and AuthorizationDenied are recovered where they are detected,
// counted into the run summary, and never abort the run. Components wrap
// these sentinels with fmt.Errorf("...: %w", ...) so callers classify with
// errors.Is.
var (
	// ErrSourceUnavailable marks a failed bulk fetch or device write
	// against the telemetry platform.
	ErrSourceUnavailable = errors.New("telemetry source unavailable")

	// ErrTransportFailure marks a failed file push or pull against the
	// transfer gateway. Retried with bounded backoff, then fatal for that
	// transfer direction only.
	ErrTransportFailure = errors.New("transfer gateway failure")

	// ErrDataQuality marks malformed events, unmatched group names, and
	// unmatched devices. Recovered locally and surfaced as summary counts.
	ErrDataQuality = errors.New("data quality fault")

	// ErrAuthorizationDenied marks a change record that targets a group
	// outside the mutable subtree. The whole record is rejected; partial
	// field updates never slip through.
	ErrAuthorizationDenied = errors.New("authorization denied")
)
