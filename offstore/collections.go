// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Collection names.
const (
	Wallets      = "wallets"
	Accounts     = "accounts" // alias of Wallets
	Transactions = "transactions"
	Budgets      = "budgets"
	Categories   = "categories"
	Transfers    = "transfers"
	Settings     = "settings"
	OfflineQueue = "offline_queue"
)

// Shape tells whether a collection holds a list of records or one object.
type Shape int

const (
	ShapeArray Shape = iota
	ShapeObject
)

func (s Shape) String() string {
	if s == ShapeObject {
		return "object"
	}
	return "array"
}

// CollectionSpec describes how a collection is stored.
type CollectionSpec struct {
	Name       string
	Shape      Shape
	IndexField string // JSON field used to order loads; empty keeps insertion order
}

var catalog = map[string]CollectionSpec{
	Wallets:      {Name: Wallets, Shape: ShapeArray},
	Transactions: {Name: Transactions, Shape: ShapeArray, IndexField: "date"},
	Budgets:      {Name: Budgets, Shape: ShapeArray},
	Categories:   {Name: Categories, Shape: ShapeArray},
	Transfers:    {Name: Transfers, Shape: ShapeArray, IndexField: "from_wallet_id"},
	Settings:     {Name: Settings, Shape: ShapeObject},
	OfflineQueue: {Name: OfflineQueue, Shape: ShapeArray, IndexField: "timestamp"},
}

// Lookup resolves aliases and returns the spec of a collection. Unknown names
// are treated as unindexed arrays.
func Lookup(name string) CollectionSpec {
	if name == Accounts {
		name = Wallets
	}
	if spec, ok := catalog[name]; ok {
		return spec
	}
	return CollectionSpec{Name: name, Shape: ShapeArray}
}

// KnownCollections lists the collections declared by the schema.
func KnownCollections() []CollectionSpec {
	names := []string{Wallets, Transactions, Budgets, Categories, Transfers, Settings, OfflineQueue}
	out := make([]CollectionSpec, 0, len(names))
	for _, n := range names {
		out = append(out, catalog[n])
	}
	return out
}

func (c CollectionSpec) empty() json.RawMessage {
	if c.Shape == ShapeObject {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(`[]`)
}

// sortKey extracts the index field of an item into a string that orders the
// same way the original value does.
func (c CollectionSpec) sortKey(item json.RawMessage) string {
	if c.IndexField == "" {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return ""
	}
	raw, ok := fields[c.IndexField]
	if !ok {
		return ""
	}
	return scalarKey(raw)
}

// itemID returns the id field of an array item, or ok=false when it has none.
func itemID(item json.RawMessage) (string, bool) {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(item, &probe); err != nil || len(probe.ID) == 0 {
		return "", false
	}
	if bytes.Equal(probe.ID, []byte("null")) {
		return "", false
	}
	id := scalarText(probe.ID)
	return id, id != ""
}

func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func scalarKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil && i >= 0 {
			return fmt.Sprintf("%020d", i)
		}
		if f, err := n.Float64(); err == nil && f >= 0 && !math.IsInf(f, 0) {
			return fmt.Sprintf("%027.6f", f)
		}
	}
	return string(bytes.TrimSpace(raw))
}
