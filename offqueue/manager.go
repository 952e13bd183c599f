// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package offqueue holds mutations that could not reach the remote service yet
// and replays them, in priority order, until they succeed or run out of
// attempts.
package offqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateOperation is returned by Enqueue when an operation with the
// same id is already queued.
var ErrDuplicateOperation = errors.New("operation already queued")

// Config holds configuration for the queue manager
type Config struct {
	MaxRetries int           // attempts before an operation is dropped, e.g. 3
	BaseDelay  time.Duration // 1s
	Multiplier float64       // 2
	MaxDelay   time.Duration // 30s
	Observer   Observer      // optional
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
	}
}

// FailedOperation is an operation dropped for good, with the last error.
type FailedOperation struct {
	Op  QueuedOperation
	Err error
}

// PassReport summarizes one ProcessQueue call.
type PassReport struct {
	Skipped   bool              // another pass was running
	Succeeded []string          // ids applied remotely
	Retrying  []string          // ids kept for a later pass
	Failed    []FailedOperation // ids dropped permanently
	Pending   int               // queue length after the pass
}

// Manager is safe for concurrent use. Only one ProcessQueue pass runs at a
// time; overlapping calls return immediately with Skipped set.
type Manager struct {
	config *Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	queue      []QueuedOperation
	processing bool
}

// NewManager creates an empty queue. config is copied.
func NewManager(config *Config, logger *slog.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config: &cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue inserts op, filling in id, timestamp and priority when missing.
// Attempts always start at 0. Returns the operation id, or
// ErrDuplicateOperation if that id is already queued.
func (m *Manager) Enqueue(op QueuedOperation) (string, error) {
	if !op.Type.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownOpType, op.Type)
	}
	op = op.clone()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Timestamp == 0 {
		op.Timestamp = m.now().UnixMilli()
	}
	op.Priority = op.Priority.normalize()
	op.Attempts = 0
	op.LastError = ""
	op.LastAttempt = 0

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, queued := range m.queue {
		if queued.ID == op.ID {
			return "", fmt.Errorf("%w: %s", ErrDuplicateOperation, op.ID)
		}
	}
	m.queue = append(m.queue, op)
	sortQueue(m.queue)
	return op.ID, nil
}

// ProcessQueue executes every queued operation once, strictly one after the
// other in queue order. Operations enqueued while the pass runs wait for the
// next pass. If ctx is cancelled the remaining operations are left untouched.
func (m *Manager) ProcessQueue(ctx context.Context, execute ExecuteFunc) PassReport {
	m.mu.Lock()
	if m.processing {
		pending := len(m.queue)
		m.mu.Unlock()
		return PassReport{Skipped: true, Pending: pending}
	}
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return PassReport{}
	}
	m.processing = true
	batch := cloneQueue(m.queue)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.processing = false
		m.mu.Unlock()
	}()

	var report PassReport
	// processed maps an id to its updated copy; nil means drop it.
	processed := make(map[string]*QueuedOperation, len(batch))

	for i := range batch {
		if ctx.Err() != nil {
			break
		}
		op := batch[i]
		if !m.contains(op.ID) {
			continue // removed while the pass was running
		}

		start := time.Now()
		res := execute(ctx, op)
		duration := time.Since(start)
		if res.Outcome != OutcomeOK && res.Err == nil {
			res.Err = fmt.Errorf("operation %s reported %s without an error", op.ID, res.Outcome)
		}

		switch res.Outcome {
		case OutcomeOK:
			processed[op.ID] = nil
			report.Succeeded = append(report.Succeeded, op.ID)
			m.logger.Debug("Queued operation applied", "op_id", op.ID, "type", op.Type)
			m.observe(ctx, OperationEvent{Op: op, Outcome: OutcomeOK, Duration: duration})

		case OutcomeRetryable:
			op.Attempts++
			op.LastError = res.Err.Error()
			op.LastAttempt = m.now().UnixMilli()
			permanent := op.Attempts >= m.config.MaxRetries
			if permanent {
				processed[op.ID] = nil
				report.Failed = append(report.Failed, FailedOperation{Op: op, Err: res.Err})
				m.logger.Error("Queued operation exhausted retries, dropping",
					"op_id", op.ID, "type", op.Type, "attempts", op.Attempts, "error", res.Err)
			} else {
				processed[op.ID] = &op
				report.Retrying = append(report.Retrying, op.ID)
				m.logger.Debug("Queued operation failed, will retry",
					"op_id", op.ID, "type", op.Type, "attempt", op.Attempts, "error", res.Err)
			}
			m.observe(ctx, OperationEvent{Op: op, Outcome: OutcomeRetryable, Duration: duration, Err: res.Err, Permanent: permanent})

		default:
			op.Attempts++
			op.LastError = res.Err.Error()
			op.LastAttempt = m.now().UnixMilli()
			processed[op.ID] = nil
			report.Failed = append(report.Failed, FailedOperation{Op: op, Err: res.Err})
			m.logger.Error("Queued operation failed permanently, dropping",
				"op_id", op.ID, "type", op.Type, "error", res.Err)
			m.observe(ctx, OperationEvent{Op: op, Outcome: OutcomeFatal, Duration: duration, Err: res.Err, Permanent: true})
		}
	}

	m.mu.Lock()
	next := make([]QueuedOperation, 0, len(m.queue))
	for _, op := range m.queue {
		updated, seen := processed[op.ID]
		switch {
		case !seen:
			next = append(next, op) // not reached this pass, or enqueued meanwhile
		case updated != nil:
			next = append(next, *updated)
		}
	}
	sortQueue(next)
	m.queue = next
	report.Pending = len(next)
	m.mu.Unlock()

	m.logger.Info("Offline queue pass finished",
		"succeeded", len(report.Succeeded),
		"retrying", len(report.Retrying),
		"failed", len(report.Failed),
		"pending", report.Pending)
	return report
}

// CalculateRetryDelay returns BaseDelay * Multiplier^(attempts-1), capped at
// MaxDelay, for scheduling the next pass.
func (m *Manager) CalculateRetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	mult := m.config.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(m.config.BaseDelay) * math.Pow(mult, float64(attempts-1))
	if m.config.MaxDelay > 0 && (d > float64(m.config.MaxDelay) || math.IsInf(d, 0)) {
		return m.config.MaxDelay
	}
	return time.Duration(d)
}

// Remove deletes an operation by id and reports whether it was queued.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, op := range m.queue {
		if op.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every queued operation.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) IsEmpty() bool { return m.Len() == 0 }

// Processing reports whether a pass is running.
func (m *Manager) Processing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processing
}

// Queue returns a copy of the queue in processing order.
func (m *Manager) Queue() []QueuedOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneQueue(m.queue)
}

// MinAttempts returns the smallest attempt count among queued operations that
// have failed at least once, or 0 when none has.
func (m *Manager) MinAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	lowest := 0
	for _, op := range m.queue {
		if op.Attempts > 0 && (lowest == 0 || op.Attempts < lowest) {
			lowest = op.Attempts
		}
	}
	return lowest
}

func (m *Manager) contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.queue {
		if op.ID == id {
			return true
		}
	}
	return false
}

func (m *Manager) observe(ctx context.Context, ev OperationEvent) {
	if m.config.Observer != nil {
		m.config.Observer.ObserveOperation(ctx, ev)
	}
}

// sortQueue orders by priority, then by enqueue time. Equal keys keep their
// relative order.
func sortQueue(q []QueuedOperation) {
	sort.SliceStable(q, func(i, j int) bool {
		ri, rj := q[i].Priority.rank(), q[j].Priority.rank()
		if ri != rj {
			return ri < rj
		}
		return q[i].Timestamp < q[j].Timestamp
	})
}

func cloneQueue(q []QueuedOperation) []QueuedOperation {
	out := make([]QueuedOperation, len(q))
	for i, op := range q {
		out[i] = op.clone()
	}
	return out
}
