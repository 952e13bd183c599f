// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"encoding/json"
)

// Document is one stored entry of a collection. For array-shaped collections
// ID is the record id; for object-shaped collections it is the field name.
type Document struct {
	ID      string
	SortKey string // value of the collection's index field, "" when unindexed
	Body    json.RawMessage
}

// Backend is a durable (or not) home for collections. Implementations return
// documents ordered by SortKey, then by insertion position.
type Backend interface {
	Name() string
	// Replace drops every document of the collection and writes docs in order.
	Replace(ctx context.Context, collection string, docs []Document) error
	Load(ctx context.Context, collection string) ([]Document, error)
	// Put upserts a single document; an existing document keeps its position.
	Put(ctx context.Context, collection string, doc Document) error
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// Opener opens the primary backend. It is invoked once per Store.
type Opener func(ctx context.Context) (Backend, error)
