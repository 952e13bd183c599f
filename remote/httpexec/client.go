// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package httpexec applies queued operations to a REST data service.
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ASIK-R/my-budget-buddy-sub000/model"
	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
)

// TokenFunc returns the bearer token sent with every request.
type TokenFunc func(ctx context.Context) (string, error)

// Config holds configuration for the Client
type Config struct {
	Timeout time.Duration // per request, e.g. 30s
}

func DefaultConfig() *Config {
	return &Config{Timeout: 30 * time.Second}
}

// Client implements the remote side of the sync coordinator over HTTP.
type Client struct {
	BaseURL string
	Token   TokenFunc
	HTTP    *http.Client

	logger *slog.Logger
}

// New creates a client for the service at baseURL.
func New(baseURL string, tok TokenFunc, config *Config, logger *slog.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: config.Timeout},
		logger:  logger,
	}
}

// statusError is a non-2xx response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Body)
}

// Execute sends op to the service. The operation id travels as the
// Idempotency-Key header so the service can ignore replays.
func (c *Client) Execute(ctx context.Context, op offqueue.QueuedOperation) offqueue.Result {
	method, path, body, err := route(op)
	if err != nil {
		return offqueue.Fatal(err)
	}

	status, respBody, err := c.do(ctx, method, path, op.ID, body)
	if err != nil {
		return offqueue.Retry(err)
	}
	switch {
	case status >= 200 && status < 300:
		return offqueue.OK()
	case method == http.MethodDelete && status == http.StatusNotFound:
		// already gone
		return offqueue.OK()
	}

	serr := &statusError{Status: status, Body: string(respBody)}
	if retryableStatus(status) {
		return offqueue.Retry(serr)
	}
	c.logger.Warn("Service rejected operation", "op_id", op.ID, "type", op.Type, "status", status)
	return offqueue.Fatal(serr)
}

// Fetch returns the JSON array the service holds for collection.
func (c *Client) Fetch(ctx context.Context, collection string) (json.RawMessage, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(collection), "", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &statusError{Status: status, Body: string(body)}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON in %s response", collection)
	}
	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to get JWT token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// route maps an operation onto a REST call.
func route(op offqueue.QueuedOperation) (method, path string, body []byte, err error) {
	payload, err := op.Decode()
	if err != nil {
		return "", "", nil, err
	}
	switch p := payload.(type) {
	case model.Transaction:
		return http.MethodPost, "/transactions", op.Data, nil
	case model.Wallet:
		return http.MethodPost, "/wallets", op.Data, nil
	case model.WalletPatch:
		return http.MethodPatch, "/wallets/" + url.PathEscape(p.ID), op.Data, nil
	case model.WalletRef:
		return http.MethodDelete, "/wallets/" + url.PathEscape(p.ID), nil, nil
	case model.Budget:
		return http.MethodPost, "/budgets", op.Data, nil
	case model.TransferRequest:
		return http.MethodPost, "/transfers", op.Data, nil
	}
	return "", "", nil, fmt.Errorf("%w: %q", offqueue.ErrUnknownOpType, op.Type)
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	var serr *statusError
	return errors.As(err, &serr) && serr.Status == status
}
