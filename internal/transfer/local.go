// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fleetworks/fleetbridge/internal/metrics"
)

// LocalGateway exchanges files through a local directory tree, mirroring
// the SFTP layout: export/ for outbound reports, import/ for the inbound
// change file. Used by tests and by dry runs against a mounted share.
type LocalGateway struct {
	root string
}

// NewLocalGateway creates a gateway rooted at dir.
func NewLocalGateway(dir string) *LocalGateway {
	return &LocalGateway{root: dir}
}

func (g *LocalGateway) Push(_ context.Context, filename string, data []byte) error {
	dir := filepath.Join(g.root, "export")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	target := filepath.Join(dir, filename)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	metrics.TransferOps.WithLabelValues("push", "ok").Inc()
	return nil
}

func (g *LocalGateway) Pull(_ context.Context, filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(g.root, "import", filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			metrics.TransferOps.WithLabelValues("pull", "absent").Inc()
			return nil, fmt.Errorf("%s: %w", filename, fs.ErrNotExist)
		}
		metrics.TransferOps.WithLabelValues("pull", "error").Inc()
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	metrics.TransferOps.WithLabelValues("pull", "ok").Inc()
	return data, nil
}

func (g *LocalGateway) Close() error { return nil }

var _ Gateway = (*LocalGateway)(nil)
