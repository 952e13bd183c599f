// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ASIK-R/my-budget-buddy-sub000/model"
	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
)

func (c *Coordinator) Wallets(ctx context.Context) ([]model.Wallet, error) {
	return readList[model.Wallet](ctx, c, offstore.Wallets)
}

func (c *Coordinator) Transactions(ctx context.Context) ([]model.Transaction, error) {
	return readList[model.Transaction](ctx, c, offstore.Transactions)
}

func (c *Coordinator) Budgets(ctx context.Context) ([]model.Budget, error) {
	return readList[model.Budget](ctx, c, offstore.Budgets)
}

func (c *Coordinator) Transfers(ctx context.Context) ([]model.Transfer, error) {
	return readList[model.Transfer](ctx, c, offstore.Transfers)
}

// readList serves a collection from the cache, loading it from the store on
// a miss.
func readList[T any](ctx context.Context, c *Coordinator, collection string) ([]T, error) {
	collection = offstore.Lookup(collection).Name
	raw, ok := c.cache.Get(collection)
	if !ok {
		gen := c.generation(collection)
		raw = c.store.Load(ctx, collection)
		c.cacheIfCurrent(collection, raw, gen)
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		c.cache.Delete(collection)
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
