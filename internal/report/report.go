// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"
)

// Type identifies one of the four outbound reports.
type Type string

const (
	TypeAssetStatus       Type = "AssetStatus"
	TypeTripsHistory      Type = "TripsHistory"
	TypeExceptionsDetails Type = "ExceptionsDetails"
	TypeEngineFaults      Type = "EngineFaults"
)

// Types lists every report type in build order.
var Types = []Type{TypeAssetStatus, TypeTripsHistory, TypeExceptionsDetails, TypeEngineFaults}

// Report is one assembled report: a header and data rows, all stringly
// typed and already converted. Rows preserve input order, so identical
// batches serialize to identical bytes.
type Report struct {
	Type    Type
	Header  []string
	Rows    [][]string
	Skipped int // malformed events dropped during assembly
}

// CSV serializes the report with its header row.
func (r *Report) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(r.Header); err != nil {
		return nil, fmt.Errorf("write %s header: %w", r.Type, err)
	}
	for i, row := range r.Rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write %s row %d: %w", r.Type, i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush %s: %w", r.Type, err)
	}
	return buf.Bytes(), nil
}

// Filename returns the deterministic outbound file name for one report:
// {tenant}_{type}_{timestamp}.csv with the timestamp in compact UTC.
func Filename(tenant string, t Type, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s.csv", tenant, t, ts.UTC().Format("20060102T150405Z"))
}
