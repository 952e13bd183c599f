// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"time"
)

const (
	OpInit       = "init"
	OpSave       = "save"
	OpLoad       = "load"
	OpSaveItem   = "save_item"
	OpDeleteItem = "delete_item"
)

// StoreEvent describes one backend call made by the Store.
type StoreEvent struct {
	Op         string
	Collection string
	Backend    string
	Attempt    int
	Duration   time.Duration
	Err        error
	// Fallback is set when the call was served by the in-memory fallback
	// because the durable backend could not be used.
	Fallback bool
}

// Observer receives store events. Implementations must be cheap and must not
// call back into the Store.
type Observer interface {
	ObserveStore(ctx context.Context, ev StoreEvent)
}

type ObserverFunc func(ctx context.Context, ev StoreEvent)

func (f ObserverFunc) ObserveStore(ctx context.Context, ev StoreEvent) {
	f(ctx, ev)
}
