// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

// Package reconcile applies inbound fleet-management changes back to the
// telemetry source. An inbound file is parsed into change records, each
// record walks a small state machine (matched, authorized, applied, or a
// terminal reject state), duplicates collapse last-wins per device, and
// surviving records are written back with bounded retries.
package reconcile

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/fleetworks/fleetbridge/internal/models"
)

// fieldCount is the fixed column count of the inbound file:
// Serial,ID,VIN,Name,Groups.
const fieldCount = 5

// ParsedRecord is one line of the inbound file. Err is set for lines that
// could not be parsed; such records never match a device.
type ParsedRecord struct {
	Record models.ChangeRecord
	Err    error
}

// ParseChangeFile splits the inbound change file into records. An optional
// header row is skipped. Blank lines are ignored. Lines with the wrong
// column count or an empty serial come back with Err set instead of being
// dropped, so the caller can report them.
//
// The file is plain comma-separated with no quoting; group names are
// pipe-delimited inside the Groups column.
func ParseChangeFile(data []byte) []ParsedRecord {
	var records []ParsedRecord

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	first := true
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if first {
			first = false
			if strings.HasPrefix(strings.ToLower(text), "serial,") {
				continue
			}
		}
		records = append(records, parseLine(text, line))
	}
	if err := scanner.Err(); err != nil {
		records = append(records, ParsedRecord{
			Err: fmt.Errorf("%w: read change file: %v", models.ErrDataQuality, err),
		})
	}
	return records
}

func parseLine(text string, line int) ParsedRecord {
	tokens := strings.Split(text, ",")
	if len(tokens) != fieldCount {
		return ParsedRecord{
			Record: models.ChangeRecord{Line: line},
			Err: fmt.Errorf("%w: line %d: expected %d columns, got %d",
				models.ErrDataQuality, line, fieldCount, len(tokens)),
		}
	}

	rec := models.ChangeRecord{
		Serial:   strings.TrimSpace(tokens[0]),
		DeviceID: strings.TrimSpace(tokens[1]),
		VIN:      strings.TrimSpace(tokens[2]),
		Name:     strings.TrimSpace(tokens[3]),
		Line:     line,
	}
	for _, g := range strings.Split(tokens[4], "|") {
		if g = strings.TrimSpace(g); g != "" {
			rec.Groups = append(rec.Groups, g)
		}
	}

	if rec.Serial == "" {
		return ParsedRecord{
			Record: rec,
			Err:    fmt.Errorf("%w: line %d: missing serial", models.ErrDataQuality, line),
		}
	}
	return ParsedRecord{Record: rec}
}
