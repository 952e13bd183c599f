// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"context"
	"fmt"

	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
)

// Persist writes the current queue into the offline_queue collection.
func (m *Manager) Persist(ctx context.Context, store *offstore.Store) error {
	if err := store.Save(ctx, offstore.OfflineQueue, m.Queue()); err != nil {
		return fmt.Errorf("failed to persist offline queue: %w", err)
	}
	return nil
}

// Restore loads operations saved by Persist. Operations already queued in
// memory win over stored copies with the same id; stored operations of an
// unknown type are discarded.
func (m *Manager) Restore(ctx context.Context, store *offstore.Store) (int, error) {
	stored, err := offstore.LoadList[QueuedOperation](ctx, store, offstore.OfflineQueue)
	if err != nil {
		return 0, fmt.Errorf("failed to restore offline queue: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	known := make(map[string]bool, len(m.queue))
	for _, op := range m.queue {
		known[op.ID] = true
	}
	restored := 0
	for _, op := range stored {
		if op.ID == "" || known[op.ID] {
			continue
		}
		if !op.Type.Valid() {
			m.logger.Warn("Discarding stored operation of unknown type", "op_id", op.ID, "type", op.Type)
			continue
		}
		op.Priority = op.Priority.normalize()
		m.queue = append(m.queue, op)
		known[op.ID] = true
		restored++
	}
	sortQueue(m.queue)
	return restored, nil
}
