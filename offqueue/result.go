// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"context"
	"errors"
)

// Outcome is the result class of executing one operation.
type Outcome int

const (
	OutcomeOK        Outcome = iota // applied; drop from queue
	OutcomeRetryable                // transient failure; count the attempt and keep
	OutcomeFatal                    // cannot succeed; drop without retrying
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is what an ExecuteFunc returns for a single operation.
type Result struct {
	Outcome Outcome
	Err     error
}

func OK() Result { return Result{Outcome: OutcomeOK} }

func Retry(err error) Result {
	if err == nil {
		err = errors.New("retryable failure")
	}
	return Result{Outcome: OutcomeRetryable, Err: err}
}

func Fatal(err error) Result {
	if err == nil {
		err = errors.New("fatal failure")
	}
	return Result{Outcome: OutcomeFatal, Err: err}
}

// ExecuteFunc applies one operation to the remote service. It must be safe to
// call again with the same operation after a Retry result.
type ExecuteFunc func(ctx context.Context, op QueuedOperation) Result
