// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package validation

import (
	"strings"
	"testing"

	"github.com/fleetworks/fleetbridge/internal/models"
)

func TestValidateStructChangeRecord(t *testing.T) {
	tests := []struct {
		name      string
		record    models.ChangeRecord
		wantErr   bool
		wantField string
	}{
		{
			name:   "valid full record",
			record: models.ChangeRecord{Serial: "G7A123", DeviceID: "b21", VIN: "1FTSW21P", Name: "Truck 7", Groups: []string{"Fleet-A"}},
		},
		{
			name:   "valid minimal record",
			record: models.ChangeRecord{Serial: "G7A123"},
		},
		{
			name:      "missing serial",
			record:    models.ChangeRecord{DeviceID: "b21"},
			wantErr:   true,
			wantField: "Serial",
		},
		{
			name:      "oversized vin",
			record:    models.ChangeRecord{Serial: "G7A123", VIN: strings.Repeat("X", 40)},
			wantErr:   true,
			wantField: "VIN",
		},
		{
			name:      "empty group name",
			record:    models.ChangeRecord{Serial: "G7A123", Groups: []string{"Fleet-A", ""}},
			wantErr:   true,
			wantField: "Groups[1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.record)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateStruct() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			found := false
			for _, f := range err.Fields() {
				if f.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected a failure on field %q, got %v", tt.wantField, err)
			}
		})
	}
}

func TestStructErrorMessageJoining(t *testing.T) {
	rec := models.ChangeRecord{VIN: strings.Repeat("X", 40)}
	err := ValidateStruct(&rec)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(err.Fields()) < 2 {
		t.Fatalf("expected at least 2 field errors, got %d", len(err.Fields()))
	}
	if !strings.Contains(err.Error(), ";") {
		t.Errorf("expected joined messages, got %q", err.Error())
	}
}
