// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

// Package transfer moves report files to the recipient and fetches the
// inbound change file. The production gateway speaks SFTP; a local
// directory gateway backs tests and development runs.
package transfer

import (
	"context"
	"io/fs"
)

// Gateway is the file exchange surface the runner uses. Push uploads one
// outbound report; Pull downloads the inbound change file by name.
//
// Pull returns an error satisfying errors.Is(err, fs.ErrNotExist) when the
// remote file is absent, which callers treat as "no inbound work", not a
// failure.
type Gateway interface {
	Push(ctx context.Context, filename string, data []byte) error
	Pull(ctx context.Context, filename string) ([]byte, error)
	Close() error
}

// ErrNotExist re-exports the sentinel Pull uses for a missing inbound file.
var ErrNotExist = fs.ErrNotExist
