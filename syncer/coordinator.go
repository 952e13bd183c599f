// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncer is the composition root of the offline-first engine. The
// Coordinator sends mutations to the remote service when it can, queues them
// when it cannot, applies them optimistically to the local store, and replays
// and reconciles once connectivity returns.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ASIK-R/my-budget-buddy-sub000/localcache"
	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInvalidTransfer   = errors.New("invalid transfer")
)

// Remote applies one operation to the service of record.
type Remote interface {
	Execute(ctx context.Context, op offqueue.QueuedOperation) offqueue.Result
}

// Fetcher is implemented by remotes that can return a whole collection as a
// JSON array. Reconcile needs it.
type Fetcher interface {
	Fetch(ctx context.Context, collection string) (json.RawMessage, error)
}

// Config holds configuration for the Coordinator
type Config struct {
	Online   bool          // initial connectivity state
	CacheTTL time.Duration // lifetime of cached collection reads, 5m
}

func DefaultConfig() *Config {
	return &Config{CacheTTL: 5 * time.Minute}
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithOnPermanentFailure registers a callback for queued operations that were
// dropped without reaching the remote service.
func WithOnPermanentFailure(fn func(ctx context.Context, failed offqueue.FailedOperation)) Option {
	return func(c *Coordinator) { c.onPermanentFailure = fn }
}

// MutationResult tells the caller whether a mutation reached the remote
// service or is waiting in the queue.
type MutationResult struct {
	ID     string // id of the created or changed record
	Queued bool
}

// Coordinator is safe for concurrent use. Local writes are serialized.
type Coordinator struct {
	store  *offstore.Store
	queue  *offqueue.Manager
	cache  *localcache.Cache[json.RawMessage]
	remote Remote
	config *Config

	logger             *slog.Logger
	now                func() time.Time
	onPermanentFailure func(ctx context.Context, failed offqueue.FailedOperation)

	writeMu sync.Mutex

	mu     sync.Mutex
	online bool

	// genMu guards generations, bumped by invalidate so a read that loaded
	// before a write cannot put its snapshot back into the cache.
	genMu       sync.Mutex
	generations map[string]uint64
}

// New wires the engine together. A nil queue or cache is replaced by one with
// default settings.
func New(store *offstore.Store, queue *offqueue.Manager, cache *localcache.Cache[json.RawMessage],
	remote Remote, config *Config, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	c := &Coordinator{
		store:  store,
		queue:  queue,
		cache:  cache,
		remote: remote,
		config: config,
		logger: slog.Default(),
		now:    time.Now,
		online: config.Online,

		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.queue == nil {
		c.queue = offqueue.NewManager(nil, c.logger)
	}
	if c.cache == nil {
		c.cache = localcache.New[json.RawMessage](0, config.CacheTTL)
	}
	return c, nil
}

// Start opens the store and restores operations queued by a previous run.
func (c *Coordinator) Start(ctx context.Context) error {
	c.store.Init(ctx)
	n, err := c.queue.Restore(ctx, c.store)
	if err != nil {
		return err
	}
	c.logger.Info("Sync coordinator started",
		"backend", c.store.Backend(), "restored_operations", n, "online", c.Online())
	return nil
}

// Close persists the queue and closes the store.
func (c *Coordinator) Close(ctx context.Context) error {
	return errors.Join(c.queue.Persist(ctx, c.store), c.store.Close())
}

// Online reports the connectivity state last given to SetOnline.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Queue exposes the offline queue for inspection.
func (c *Coordinator) Queue() *offqueue.Manager { return c.queue }

// Store exposes the local store.
func (c *Coordinator) Store() *offstore.Store { return c.store }

func (c *Coordinator) persistQueue(ctx context.Context) {
	if err := c.queue.Persist(ctx, c.store); err != nil {
		c.logger.Error("Failed to persist offline queue", "error", err)
	}
}

func (c *Coordinator) invalidate(collections ...string) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	for _, name := range collections {
		name = offstore.Lookup(name).Name
		c.generations[name]++
		c.cache.Delete(name)
	}
}

func (c *Coordinator) generation(collection string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.generations[collection]
}

// cacheIfCurrent caches raw unless collection was invalidated after gen was
// read.
func (c *Coordinator) cacheIfCurrent(collection string, raw json.RawMessage, gen uint64) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	if c.generations[collection] == gen {
		c.cache.Set(collection, raw, c.config.CacheTTL)
	}
}
