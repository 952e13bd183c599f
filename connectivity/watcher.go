// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package connectivity keeps a websocket open to the data service and turns
// the state of that link into online/offline edges.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config holds configuration for the Watcher
type Config struct {
	BackoffMin   time.Duration // 1s
	BackoffMax   time.Duration // 60s
	PingInterval time.Duration // 15s; the link is down after two missed pongs
	Header       http.Header   // sent with the handshake, e.g. Authorization
}

func DefaultConfig() *Config {
	return &Config{
		BackoffMin:   1 * time.Second,
		BackoffMax:   60 * time.Second,
		PingInterval: 15 * time.Second,
	}
}

// ChangeFunc is called on every transition. It runs on the watcher
// goroutine, so a slow callback delays detection of the next transition.
type ChangeFunc func(ctx context.Context, online bool)

// Watcher starts offline and reports only transitions.
type Watcher struct {
	url      string
	onChange ChangeFunc
	config   *Config
	dialer   *websocket.Dialer
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
}

// NewWatcher creates a watcher for the websocket endpoint at url. config is
// copied.
func NewWatcher(url string, onChange ChangeFunc, config *Config, logger *slog.Logger) *Watcher {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		url:      url,
		onChange: onChange,
		config:   &cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger,
	}
}

// Online reports the last known link state.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Run dials and watches the link until ctx is done, redialing with
// exponential backoff. It always returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	backoff := w.config.BackoffMin
	for {
		conn, _, err := w.dialer.DialContext(ctx, w.url, w.config.Header)
		if err == nil {
			backoff = w.config.BackoffMin
			w.set(ctx, true)
			err = w.watch(ctx, conn)
			w.logger.Debug("Connectivity link lost", "url", w.url, "error", err)
		} else {
			w.logger.Debug("Connectivity dial failed", "url", w.url, "error", err)
		}
		w.set(ctx, false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > w.config.BackoffMax {
			backoff = w.config.BackoffMax
		}
	}
}

// watch blocks until the connection fails, pinging it periodically.
func (w *Watcher) watch(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	deadline := 2 * w.config.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(w.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// unblocks ReadMessage
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.config.PingInterval)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		// any traffic proves the link is alive
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
	}
}

func (w *Watcher) set(ctx context.Context, online bool) {
	w.mu.Lock()
	changed := w.online != online
	w.online = online
	w.mu.Unlock()
	if !changed {
		return
	}
	w.logger.Info("Connectivity changed", "online", online)
	if w.onChange != nil {
		w.onChange(ctx, online)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
