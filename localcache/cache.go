// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package localcache provides a bounded in-process cache with strict LRU
// eviction and per-entry time-to-live.
//
// Eviction is purely capacity driven: TTL only controls read visibility, and a
// full cache always drops its least recently used key, expired or not.
package localcache

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 5 * time.Minute
)

// Entry is a single cached value.
type Entry[V any] struct {
	Key       string
	Value     V
	ExpiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time

	entries map[string]*list.Element
	recency *list.List // front = least recently used
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache holding at most capacity entries. A non-positive
// capacity or ttl falls back to DefaultCapacity / DefaultTTL.
func New[V any](capacity int, ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      o.now,
		entries:  make(map[string]*list.Element, capacity),
		recency:  list.New(),
	}
}

// Get returns the value for key. Expired entries are purged and reported as
// absent. A hit promotes the key to most recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	entry := el.Value.(*Entry[V])
	if !c.now().Before(entry.ExpiresAt) {
		c.removeElement(el)
		return zero, false
	}
	c.recency.MoveToBack(el)
	return entry.Value, true
}

// Set stores value under key. ttl <= 0 uses the cache default. Overwriting a
// key refreshes its value, expiry and recency.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*Entry[V])
		entry.Value = value
		entry.ExpiresAt = expiresAt
		c.recency.MoveToBack(el)
		return
	}

	if len(c.entries) >= c.capacity {
		if oldest := c.recency.Front(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	c.entries[key] = c.recency.PushBack(&Entry[V]{Key: key, Value: value, ExpiresAt: expiresAt})
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// ClearExpired removes every expired entry and returns how many were dropped.
// Survivors keep their recency order.
func (c *Cache[V]) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.recency.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*Entry[V]).ExpiresAt) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Clear drops everything.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, c.capacity)
	c.recency.Init()
}

// Len returns the number of physically stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the stored keys from least to most recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for el := c.recency.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*Entry[V]).Key)
	}
	return keys
}

func (c *Cache[V]) removeElement(el *list.Element) {
	entry := c.recency.Remove(el).(*Entry[V])
	delete(c.entries, entry.Key)
}
