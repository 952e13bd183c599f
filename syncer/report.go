// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"fmt"
	"strings"

	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
)

// SyncReport summarizes a drain of the offline queue and the reconcile that
// followed it.
type SyncReport struct {
	Succeeded  int
	Pending    int // operations still queued for a later retry
	Failed     []offqueue.FailedOperation
	Reconciled map[string]int // collection -> records after merge
	Skipped    bool           // another drain was already running
}

// Complete reports whether every queued operation reached the remote service.
func (r *SyncReport) Complete() bool {
	return !r.Skipped && r.Pending == 0 && len(r.Failed) == 0
}

// Summary is a one-line description suitable for showing to a user.
func (r *SyncReport) Summary() string {
	if r.Complete() {
		return fmt.Sprintf("sync complete: %s applied", operations(r.Succeeded))
	}
	var parts []string
	if r.Pending > 0 {
		parts = append(parts, operations(r.Pending)+" pending retry")
	}
	if n := len(r.Failed); n > 0 {
		parts = append(parts, operations(n)+" failed permanently")
	}
	if r.Skipped && len(parts) == 0 {
		parts = append(parts, "sync already in progress")
	}
	return strings.Join(parts, ", ")
}

func operations(n int) string {
	if n == 1 {
		return "1 operation"
	}
	return fmt.Sprintf("%d operations", n)
}
