// Fleetbridge - Fleet Telemetry Synchronization and Reconciliation
// Copyright 2026 Fleetworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetworks/fleetbridge

/*
client.go - Core telemetry source API client

This file provides the Client struct and the HTTP/JSON communication layer
for the fleet telemetry provider's RPC-style API. Every call is a POST to
/apiv1 with a {"method": ..., "params": ...} body; responses carry either a
"result" payload or an "error" envelope.

Client Features:
  - Session authentication with automatic re-authentication on expiry
  - Generic call helper with typed result decoding
  - Context support for cancellation and timeouts
  - Bounded retry with exponential backoff for transient failures

Related Files:
  - reads.go: reference-entity and windowed telemetry reads
  - writes.go: device mutation and reverse geocoding
  - breaker.go: circuit breaker wrapper
*/

//nolint:staticcheck // File documentation, not package doc
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/fleetworks/fleetbridge/internal/config"
	"github.com/fleetworks/fleetbridge/internal/metrics"
	"github.com/fleetworks/fleetbridge/internal/models"
)

// maxErrorBodySize limits how much of a response body is read for error
// reporting, preventing unbounded allocation on large error responses.
const maxErrorBodySize = 64 * 1024 // 64KB

// apiPath is the provider's single RPC endpoint.
const apiPath = "/apiv1"

// readBodyForError reads a response body for error reporting (max 64KB).
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// API defines the telemetry source operations used by the pipeline.
//
// This interface is implemented by Client for production use and by mock
// implementations for testing. All methods accept a context for cancellation
// and return typed structs from internal/models.
//
// Thread Safety: all methods are safe for concurrent use.
type API interface {
	Authenticate(ctx context.Context) error

	GetDevices(ctx context.Context) ([]models.Device, error)
	GetGroups(ctx context.Context) ([]models.Group, error)
	GetUsers(ctx context.Context) ([]models.User, error)
	GetZones(ctx context.Context) ([]models.Zone, error)
	GetRules(ctx context.Context) ([]models.Rule, error)
	GetDiagnostics(ctx context.Context) ([]models.Diagnostic, error)
	GetControllers(ctx context.Context) ([]models.Controller, error)

	GetTrips(ctx context.Context, window models.TimeWindow) ([]models.Trip, error)
	GetExceptionEvents(ctx context.Context, window models.TimeWindow) ([]models.ExceptionEvent, error)
	GetFaultEvents(ctx context.Context, window models.TimeWindow) ([]models.FaultEvent, error)
	GetStatusSnapshots(ctx context.Context) ([]models.StatusSnapshot, error)
	GetPositionLogs(ctx context.Context, window models.TimeWindow) ([]models.PositionLog, error)
	GetStatusReadings(ctx context.Context, diagnosticID string, window models.TimeWindow) ([]models.StatusReading, error)

	SetDevice(ctx context.Context, device models.Device) error
	ReverseGeocode(ctx context.Context, point models.LatLon) (string, error)
}

// Client handles communication with the fleet telemetry provider's API.
//
// A session is established lazily on the first call and refreshed whenever
// the provider reports it expired. The session token is guarded by a mutex
// so concurrent report builders can share one client.
type Client struct {
	baseURL  string
	database string
	username string
	password string
	client   *http.Client

	retryAttempts int
	retryDelay    time.Duration

	mu      sync.Mutex
	session string
}

// NewClient creates a telemetry source client from configuration.
func NewClient(cfg *config.SourceConfig) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		database: cfg.Database,
		username: cfg.Username,
		password: cfg.Password,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
	}
}

// credentials is the session envelope attached to every authenticated call.
type credentials struct {
	Database  string `json:"database"`
	UserName  string `json:"userName"`
	SessionID string `json:"sessionId"`
}

// rpcRequest is the provider's RPC call envelope.
type rpcRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// rpcError is the provider's error envelope. The first entry in Errors
// carries the machine-readable exception name used for classification.
type rpcError struct {
	Message string `json:"message"`
	Errors  []struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Name returns the machine-readable name of the first error, if any.
func (e *rpcError) Name() string {
	if len(e.Errors) > 0 {
		return e.Errors[0].Name
	}
	return ""
}

func (e *rpcError) Error() string {
	if name := e.Name(); name != "" {
		return fmt.Sprintf("%s: %s", name, e.Message)
	}
	return e.Message
}

// isSessionExpired reports whether the provider rejected the session token.
func (e *rpcError) isSessionExpired() bool {
	name := e.Name()
	return strings.Contains(name, "InvalidUser") || strings.Contains(name, "ExpiredPassword") ||
		strings.Contains(name, "InvalidSession")
}

// isTransient reports whether the error is worth retrying.
func (e *rpcError) isTransient() bool {
	name := e.Name()
	return strings.Contains(name, "DbUnavailable") || strings.Contains(name, "OverLimit") ||
		strings.Contains(name, "Timeout")
}

// Authenticate establishes a session with the provider. It is normally
// invoked lazily by call but can be used up front to fail fast on bad
// credentials.
func (c *Client) Authenticate(ctx context.Context) error {
	params := map[string]string{
		"database": c.database,
		"userName": c.username,
		"password": c.password,
	}

	var result struct {
		Credentials credentials `json:"credentials"`
	}
	if err := c.post(ctx, "Authenticate", params, &result); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if result.Credentials.SessionID == "" {
		return fmt.Errorf("authenticate: %w: empty session in response", models.ErrSourceUnavailable)
	}

	c.mu.Lock()
	c.session = result.Credentials.SessionID
	c.mu.Unlock()
	return nil
}

// call performs an authenticated RPC, establishing or refreshing the session
// as needed. params must be a map; call injects the credentials key.
func (c *Client) call(ctx context.Context, method string, params map[string]interface{}, result interface{}) error {
	start := time.Now()
	err := c.callOnce(ctx, method, params, result)

	// One re-authentication pass when the session token was rejected.
	var apiErr *rpcError
	if errors.As(err, &apiErr) && apiErr.isSessionExpired() {
		if authErr := c.Authenticate(ctx); authErr != nil {
			err = authErr
		} else {
			err = c.callOnce(ctx, method, params, result)
		}
	}

	metrics.SourceCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceCalls.WithLabelValues(method, "error").Inc()
	} else {
		metrics.SourceCalls.WithLabelValues(method, "ok").Inc()
	}
	return err
}

func (c *Client) callOnce(ctx context.Context, method string, params map[string]interface{}, result interface{}) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == "" {
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		session = c.session
		c.mu.Unlock()
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	params["credentials"] = credentials{
		Database:  c.database,
		UserName:  c.username,
		SessionID: session,
	}

	return c.post(ctx, method, params, result)
}

// post sends one RPC request with bounded retry on transport and transient
// provider failures. Non-transient provider errors are returned immediately.
func (c *Client) post(ctx context.Context, method string, params interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.doPost(ctx, method, body, result)
		if lastErr == nil {
			return nil
		}

		var apiErr *rpcError
		if errors.As(lastErr, &apiErr) && !apiErr.isTransient() {
			return lastErr
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", method, c.retryAttempts+1, lastErr)
}

func (c *Client) doPost(ctx context.Context, method string, body []byte, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrSourceUnavailable, method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned HTTP %d: %s",
			models.ErrSourceUnavailable, method, resp.StatusCode, readBodyForError(resp.Body))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if result == nil {
		return nil
	}
	if len(envelope.Result) == 0 {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
