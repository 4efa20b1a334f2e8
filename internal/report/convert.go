// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

// Package report assembles the four outbound report files from one run's
// event batch: asset status, trips history, exceptions details, and engine
// faults. All rows are denormalized against the reference cache, converted
// to imperial units, and rendered in the recipient's local timezone.
package report

import (
	"strconv"
	"time"
)

// Unit conversion factors. The recipient consumes imperial units; telemetry
// arrives metric.
const (
	kmPerMile     = 0.621371
	metersPerMile = 0.000621371
)

// KmToMiles converts kilometers to miles.
func KmToMiles(km float64) float64 {
	return km * kmPerMile
}

// MetersToMiles converts meters to miles, used for odometer readings.
func MetersToMiles(m float64) float64 {
	return m * metersPerMile
}

// KmhToMph converts kilometers per hour to miles per hour.
func KmhToMph(kmh float64) float64 {
	return kmh * kmPerMile
}

// FormatDuration renders a duration as HH:MM:SS. Hours are not wrapped at
// 24, so multi-day durations stay unambiguous. Negative durations render as
// zero.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return pad2(h) + ":" + pad2(m) + ":" + pad2(s)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

// SplitDateTime renders a UTC timestamp as separate date and time columns
// in the given zone, MM/DD/YYYY and 12-hour clock. The zero time renders as
// two empty strings: reports show blanks, never a zero date.
func SplitDateTime(t time.Time, loc *time.Location) (date, clock string) {
	if t.IsZero() {
		return "", ""
	}
	local := t.In(loc)
	return local.Format("01/02/2006"), local.Format("03:04:05 PM")
}

// formatMiles renders a mile value with two decimals, the precision the
// recipient's importer expects.
func formatMiles(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// formatCoord renders a coordinate at full precision, zero as "0".
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatFlag renders a boolean as the 0/1 flag columns use.
func formatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
