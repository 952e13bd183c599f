// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"context"
	"time"
)

// OperationEvent describes one execution attempt made by ProcessQueue.
type OperationEvent struct {
	Op        QueuedOperation // state after the attempt
	Outcome   Outcome
	Duration  time.Duration
	Err       error
	Permanent bool // the operation was dropped without further retries
}

type Observer interface {
	ObserveOperation(ctx context.Context, ev OperationEvent)
}

type ObserverFunc func(ctx context.Context, ev OperationEvent)

func (f ObserverFunc) ObserveOperation(ctx context.Context, ev OperationEvent) {
	f(ctx, ev)
}
