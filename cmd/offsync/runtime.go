// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ASIK-R/my-budget-buddy-sub000/internal/auth"
	"github.com/ASIK-R/my-budget-buddy-sub000/localcache"
	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
	"github.com/ASIK-R/my-budget-buddy-sub000/remote/httpexec"
	"github.com/ASIK-R/my-budget-buddy-sub000/remote/pgexec"
	"github.com/ASIK-R/my-budget-buddy-sub000/syncer"
	"github.com/ASIK-R/my-budget-buddy-sub000/telemetry"
)

const (
	deviceIDKey   = "device_id"
	tokenLifetime = time.Hour
)

// runtime bundles what every command works on: the local store, a queue
// manager on top of it and the metrics both report to.
type runtime struct {
	settings *Settings
	logger   *slog.Logger
	registry *prometheus.Registry
	store    *offstore.Store
	queue    *offqueue.Manager
	coord    *syncer.Coordinator
	closers  []func()
}

func (o *RootOptions) open(ctx context.Context) (*runtime, error) {
	registry := prometheus.NewRegistry()
	collector, err := telemetry.NewCollector(registry)
	if err != nil {
		return nil, err
	}

	storeConfig := *o.settings.Store
	storeConfig.Observer = collector
	store := offstore.New(offstore.SQLiteOpener(offstore.DefaultSQLiteConfig(o.settings.DataPath)), &storeConfig, o.logger)
	store.Init(ctx)
	if store.FallbackOnly() {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open local store at %s", o.settings.DataPath)
	}

	queueConfig := *o.settings.Queue
	queueConfig.Observer = collector

	return &runtime{
		settings: o.settings,
		logger:   o.logger,
		registry: registry,
		store:    store,
		queue:    offqueue.NewManager(&queueConfig, o.logger),
	}, nil
}

// Close persists the queue when a coordinator ran and closes the store before
// releasing the remote.
func (r *runtime) Close() error {
	var err error
	if r.coord != nil {
		err = r.coord.Close(context.Background())
	} else {
		err = r.store.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	return err
}

// restoreQueue loads the persisted queue for commands that work on it without
// a coordinator.
func (r *runtime) restoreQueue(ctx context.Context) error {
	n, err := r.queue.Restore(ctx, r.store)
	if err != nil {
		return err
	}
	r.logger.Debug("Restored offline queue", "operations", n)
	return nil
}

// coordinator builds the remote from settings and a coordinator that replays
// the queue against it. Start has already run on the returned coordinator.
func (r *runtime) coordinator(ctx context.Context, online bool) (*syncer.Coordinator, error) {
	remote, err := r.remote(ctx)
	if err != nil {
		return nil, err
	}
	cache := localcache.New[json.RawMessage](r.settings.CacheCapacity, r.settings.CacheTTL)
	c, err := syncer.New(r.store, r.queue, cache, remote,
		&syncer.Config{Online: online, CacheTTL: r.settings.CacheTTL},
		syncer.WithLogger(r.logger),
		syncer.WithOnPermanentFailure(func(ctx context.Context, f offqueue.FailedOperation) {
			r.logger.Error("Operation failed permanently",
				"op_id", f.Op.ID, "type", f.Op.Type, "attempts", f.Op.Attempts, "error", f.Err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	r.coord = c
	return c, nil
}

func (r *runtime) remote(ctx context.Context) (syncer.Remote, error) {
	rs := r.settings.Remote
	if rs.URL == "" {
		return nil, fmt.Errorf("%s is required", cfgKeyRemoteURL)
	}

	switch rs.Kind {
	case remoteKindPostgres:
		pool, err := pgxpool.New(ctx, rs.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		r.closers = append(r.closers, pool.Close)
		exec, err := pgexec.New(pool, &pgexec.Config{Schema: rs.Schema, UserID: rs.UserID}, r.logger)
		if err != nil {
			return nil, err
		}
		if err := exec.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return exec, nil

	default:
		if rs.JWTSecret == "" || rs.UserID == "" {
			return nil, fmt.Errorf("%s and %s are required for the http remote", cfgKeyRemoteJWTSecret, cfgKeyRemoteUserID)
		}
		deviceID, err := r.deviceID(ctx)
		if err != nil {
			return nil, err
		}
		tokens, err := auth.NewSource(rs.JWTSecret, rs.UserID, deviceID, tokenLifetime)
		if err != nil {
			return nil, err
		}
		return httpexec.New(rs.URL, tokens.Token, &httpexec.Config{Timeout: rs.Timeout}, r.logger), nil
	}
}

// deviceID returns the configured device id, or the one kept in the settings
// collection, generating it on first use.
func (r *runtime) deviceID(ctx context.Context) (string, error) {
	if id := r.settings.Remote.DeviceID; id != "" {
		return id, nil
	}
	settings, err := offstore.LoadObject(ctx, r.store, offstore.Settings)
	if err != nil {
		return "", err
	}
	if id, ok := settings[deviceIDKey].(string); ok && id != "" {
		return id, nil
	}
	id := uuid.NewString()
	settings[deviceIDKey] = id
	if err := r.store.Save(ctx, offstore.Settings, settings); err != nil {
		return "", fmt.Errorf("failed to save device id: %w", err)
	}
	r.logger.Info("Generated device id", "device_id", id)
	return id, nil
}
