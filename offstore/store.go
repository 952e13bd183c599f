// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package offstore is the durable local store of the sync engine: named
// collections that survive restarts, kept in a primary Backend (SQLite) with an
// in-memory fallback that takes over when the primary cannot be opened or keeps
// failing.
//
// Storage failures never reach callers. Writes are retried with exponential
// backoff and, once retries are exhausted, land in the fallback. That loses
// durability for the affected collection, so every degradation is logged at
// Warn and reported to the configured Observer.
package offstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrShapeMismatch is returned when data does not match the collection shape
	// (e.g. an object saved into an array collection).
	ErrShapeMismatch = errors.New("data does not match collection shape")
)

// Config holds configuration for the Store
type Config struct {
	MaxRetries int           // retries after the first failed write, e.g. 3
	BaseDelay  time.Duration // delay before retry n is BaseDelay * 2^n, e.g. 100ms
	Observer   Observer      // optional
}

// DefaultConfig returns the reference retry policy: 100ms, 200ms, 400ms.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
	}
}

// Store manages named collections on top of a primary and a fallback backend.
type Store struct {
	opener   Opener
	config   *Config
	logger   *slog.Logger
	initOnce sync.Once

	primary  Backend
	fallback *MemoryBackend

	degradeMu sync.Mutex // serializes fallback seeding

	mu           sync.RWMutex
	fallbackOnly bool
	degraded     map[string]bool
}

// New creates a store. The primary backend is opened lazily by Init (or by
// the first operation). A nil opener makes the store memory-only.
func New(opener Opener, config *Config, logger *slog.Logger) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		opener:   opener,
		config:   config,
		logger:   logger,
		fallback: NewMemoryBackend(),
		degraded: make(map[string]bool),
	}
}

// Init opens the primary backend once. Concurrent callers wait for the same
// attempt. If opening fails the store switches to the in-memory fallback for
// its whole lifetime.
func (s *Store) Init(ctx context.Context) {
	s.initOnce.Do(func() {
		start := time.Now()
		var (
			b   Backend
			err error
		)
		if s.opener == nil {
			err = errors.New("no durable backend configured")
		} else {
			b, err = s.opener(ctx)
			if err == nil && b == nil {
				err = errors.New("opener returned no backend")
			}
		}

		s.mu.Lock()
		if err != nil {
			s.fallbackOnly = true
		} else {
			s.primary = b
		}
		s.mu.Unlock()

		ev := StoreEvent{Op: OpInit, Duration: time.Since(start), Err: err}
		if err != nil {
			ev.Backend = s.fallback.Name()
			ev.Fallback = true
			s.logger.Warn("Local store unavailable, using in-memory fallback", "error", err)
		} else {
			ev.Backend = b.Name()
			s.logger.Debug("Local store opened", "backend", b.Name())
		}
		s.observe(ctx, ev)
	})
}

// Backend returns the name of the backend serving collections that have not
// degraded.
func (s *Store) Backend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fallbackOnly || s.primary == nil {
		return s.fallback.Name()
	}
	return s.primary.Name()
}

// Degraded returns the collections whose writes fell back to memory, sorted.
// When the primary could not be opened at all, FallbackOnly reports true.
func (s *Store) Degraded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.degraded))
	for name := range s.degraded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FallbackOnly reports whether the whole store runs on the in-memory fallback.
func (s *Store) FallbackOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallbackOnly
}

// Save replaces the whole collection with data: a slice (or JSON array) for
// array collections, a map/struct (or JSON object) for object collections.
// Only malformed input is reported as an error.
func (s *Store) Save(ctx context.Context, collection string, data any) error {
	spec := Lookup(collection)
	docs, err := toDocuments(spec, data)
	if err != nil {
		return fmt.Errorf("save %s: %w", spec.Name, err)
	}
	s.write(ctx, OpSave, spec.Name, func(b Backend) error {
		return b.Replace(ctx, spec.Name, docs)
	})
	return nil
}

// SaveItem upserts one record by id into an array collection, or merges the
// fields of an object into an object collection.
func (s *Store) SaveItem(ctx context.Context, collection string, item any) error {
	spec := Lookup(collection)
	raw, err := marshalRaw(item)
	if err != nil {
		return fmt.Errorf("save item into %s: %w", spec.Name, err)
	}

	var docs []Document
	if spec.Shape == ShapeObject {
		docs, err = objectDocuments(raw)
		if err != nil {
			return fmt.Errorf("save item into %s: %w", spec.Name, err)
		}
	} else {
		if !isJSONObject(raw) {
			return fmt.Errorf("save item into %s: %w", spec.Name, ErrShapeMismatch)
		}
		docs = []Document{arrayDocument(spec, raw)}
	}

	s.write(ctx, OpSaveItem, spec.Name, func(b Backend) error {
		for _, d := range docs {
			if err := b.Put(ctx, spec.Name, d); err != nil {
				return err
			}
		}
		return nil
	})
	return nil
}

// DeleteItem removes a record by id (array collections) or a field by name
// (object collections). Deleting a missing id is not an error.
func (s *Store) DeleteItem(ctx context.Context, collection, id string) {
	spec := Lookup(collection)
	s.write(ctx, OpDeleteItem, spec.Name, func(b Backend) error {
		return b.Delete(ctx, spec.Name, id)
	})
}

// Load returns the collection as a JSON array or object. Read failures and
// never-written collections yield an empty value of the right shape.
func (s *Store) Load(ctx context.Context, collection string) json.RawMessage {
	spec := Lookup(collection)
	s.Init(ctx)

	b, fallback := s.backendFor(spec.Name)
	start := time.Now()
	docs, err := b.Load(ctx, spec.Name)
	s.observe(ctx, StoreEvent{
		Op:         OpLoad,
		Collection: spec.Name,
		Backend:    b.Name(),
		Duration:   time.Since(start),
		Err:        err,
		Fallback:   fallback,
	})
	if err != nil {
		s.logger.Warn("Failed to load collection, returning empty", "collection", spec.Name, "error", err)
		return spec.empty()
	}

	out, err := assemble(spec, docs)
	if err != nil {
		s.logger.Warn("Stored collection is corrupt, returning empty", "collection", spec.Name, "error", err)
		return spec.empty()
	}
	return out
}

// Close releases both backends.
func (s *Store) Close() error {
	s.mu.RLock()
	primary := s.primary
	s.mu.RUnlock()
	var err error
	if primary != nil {
		err = primary.Close()
	}
	return errors.Join(err, s.fallback.Close())
}

// LoadList decodes an array collection into a slice of T.
func LoadList[T any](ctx context.Context, s *Store, collection string) ([]T, error) {
	var out []T
	if err := json.Unmarshal(s.Load(ctx, collection), &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// LoadObject decodes an object collection into a map.
func LoadObject(ctx context.Context, s *Store, collection string) (map[string]any, error) {
	out := map[string]any{}
	if err := json.Unmarshal(s.Load(ctx, collection), &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return out, nil
}

func (s *Store) backendFor(collection string) (Backend, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fallbackOnly || s.primary == nil || s.degraded[collection] {
		return s.fallback, true
	}
	return s.primary, false
}

// write runs fn against the primary with retries, then degrades the
// collection to the fallback if every attempt failed.
func (s *Store) write(ctx context.Context, op, collection string, fn func(Backend) error) {
	s.Init(ctx)

	b, fallback := s.backendFor(collection)
	if fallback {
		start := time.Now()
		err := fn(b)
		s.observe(ctx, StoreEvent{Op: op, Collection: collection, Backend: b.Name(), Duration: time.Since(start), Err: err, Fallback: true})
		return
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		start := time.Now()
		lastErr = fn(b)
		s.observe(ctx, StoreEvent{Op: op, Collection: collection, Backend: b.Name(), Attempt: attempt, Duration: time.Since(start), Err: lastErr})
		if lastErr == nil {
			return
		}
		s.logger.Debug("Local store write failed", "op", op, "collection", collection, "attempt", attempt, "error", lastErr)
		if attempt == s.config.MaxRetries {
			break
		}
		if err := sleepWithContext(ctx, s.config.BaseDelay<<attempt); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	s.degrade(ctx, collection, b)
	s.logger.Warn("Local store write failed after retries, data kept in memory only",
		"op", op, "collection", collection, "error", lastErr)

	start := time.Now()
	err := fn(s.fallback)
	s.observe(ctx, StoreEvent{Op: op, Collection: collection, Backend: s.fallback.Name(), Duration: time.Since(start), Err: err, Fallback: true})
}

// degrade switches a collection to the fallback, seeding it with whatever the
// primary still returns so partial writes do not hide older records.
func (s *Store) degrade(ctx context.Context, collection string, primary Backend) {
	s.degradeMu.Lock()
	defer s.degradeMu.Unlock()

	s.mu.RLock()
	already := s.degraded[collection]
	s.mu.RUnlock()
	if already {
		return
	}
	// Seed before switching: readers stay on the primary until the fallback
	// holds its records.
	if docs, err := primary.Load(ctx, collection); err == nil {
		_ = s.fallback.Replace(ctx, collection, docs)
	}

	s.mu.Lock()
	s.degraded[collection] = true
	s.mu.Unlock()
}

func (s *Store) observe(ctx context.Context, ev StoreEvent) {
	if s.config.Observer != nil {
		s.config.Observer.ObserveStore(ctx, ev)
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

func marshalRaw(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func toDocuments(spec CollectionSpec, data any) ([]Document, error) {
	raw, err := marshalRaw(data)
	if err != nil {
		return nil, err
	}
	if spec.Shape == ShapeObject {
		return objectDocuments(raw)
	}

	var items []json.RawMessage
	if string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, ErrShapeMismatch
	}
	docs := make([]Document, 0, len(items))
	for _, item := range items {
		if !isJSONObject(item) {
			return nil, ErrShapeMismatch
		}
		docs = append(docs, arrayDocument(spec, item))
	}
	return docs, nil
}

func arrayDocument(spec CollectionSpec, item json.RawMessage) Document {
	id, ok := itemID(item)
	if !ok {
		// Items without an id are still stored; they just cannot be addressed.
		id = "_anon_" + uuid.NewString()
	}
	return Document{ID: id, SortKey: spec.sortKey(item), Body: item}
}

func objectDocuments(raw json.RawMessage) ([]Document, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ErrShapeMismatch
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	docs := make([]Document, 0, len(keys))
	for _, k := range keys {
		docs = append(docs, Document{ID: k, Body: fields[k]})
	}
	return docs, nil
}

func assemble(spec CollectionSpec, docs []Document) (json.RawMessage, error) {
	if spec.Shape == ShapeObject {
		obj := make(map[string]json.RawMessage, len(docs))
		for _, d := range docs {
			obj[d.ID] = d.Body
		}
		return json.Marshal(obj)
	}
	items := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.Body)
	}
	return json.Marshal(items)
}

func isJSONObject(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
