// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps collections in process memory. It is the fallback used
// when the durable backend is unavailable, and a handy backend for tests.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memDoc struct {
	doc      Document
	position int64
}

type memCollection struct {
	docs    map[string]*memDoc
	nextPos int64
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]*memCollection)}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Replace(_ context.Context, collection string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &memCollection{docs: make(map[string]*memDoc, len(docs))}
	for _, d := range docs {
		c.docs[d.ID] = &memDoc{doc: cloneDoc(d), position: c.nextPos}
		c.nextPos++
	}
	m.collections[collection] = c
	return nil
}

func (m *MemoryBackend) Load(_ context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}
	entries := make([]*memDoc, 0, len(c.docs))
	for _, d := range c.docs {
		entries = append(entries, d)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].doc.SortKey != entries[j].doc.SortKey {
			return entries[i].doc.SortKey < entries[j].doc.SortKey
		}
		return entries[i].position < entries[j].position
	})
	out := make([]Document, len(entries))
	for i, e := range entries {
		out[i] = cloneDoc(e.doc)
	}
	return out, nil
}

func (m *MemoryBackend) Put(_ context.Context, collection string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		c = &memCollection{docs: make(map[string]*memDoc)}
		m.collections[collection] = c
	}
	if existing, ok := c.docs[doc.ID]; ok {
		existing.doc = cloneDoc(doc)
		return nil
	}
	c.docs[doc.ID] = &memDoc{doc: cloneDoc(doc), position: c.nextPos}
	c.nextPos++
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[collection]; ok {
		delete(c.docs, id)
	}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

func cloneDoc(d Document) Document {
	body := make([]byte, len(d.Body))
	copy(body, d.Body)
	d.Body = body
	return d
}
