// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package conflict combines a local and a remote version of the same data into
// one. Every function here is pure: inputs are never modified, so the same
// resolvers serve both automatic merges and flows that ask the user first.
package conflict

import (
	"time"

	"github.com/ASIK-R/my-budget-buddy-sub000/model"
)

// DuplicateWindow is how far apart the dates of two otherwise identical
// transactions may be for them to count as the same real-world event.
const DuplicateWindow = 60 * time.Second

// Timestamped is a record that may know when it was last modified.
type Timestamped interface {
	Freshness() (time.Time, bool)
}

// Resolver picks or builds the surviving version of a record present on both sides.
type Resolver[T any] func(local, remote T) T

// ResolveByTimestamp returns the fresher of a and b. A record without a
// timestamp loses to one that has it. When neither has one, or both carry the
// same instant, b wins; callers pass the remote copy as b.
func ResolveByTimestamp[T Timestamped](a, b T) T {
	if firstWins(a, b) {
		return a
	}
	return b
}

func firstWins(a, b Timestamped) bool {
	ta, okA := a.Freshness()
	tb, okB := b.Freshness()
	if !okA {
		return false
	}
	return !okB || ta.After(tb)
}

// IsDuplicateTransaction reports whether a and b describe the same event
// recorded twice: equal description, amount, category and type, with dates no
// more than DuplicateWindow apart.
func IsDuplicateTransaction(a, b model.Transaction) bool {
	if a.Description != b.Description || a.Amount != b.Amount ||
		a.Category != b.Category || a.Type != b.Type {
		return false
	}
	d := a.Date.Sub(b.Date)
	if d < 0 {
		d = -d
	}
	return d <= DuplicateWindow
}

// ResolveTransaction keeps one copy of a duplicated transaction, preferring
// the one that carries an owner id and then the local one. Distinct
// transactions fall back to ResolveByTimestamp.
func ResolveTransaction(local, remote model.Transaction) model.Transaction {
	if IsDuplicateTransaction(local, remote) {
		if local.OwnerID == "" && remote.OwnerID != "" {
			return remote
		}
		return local
	}
	return ResolveByTimestamp(local, remote)
}

// ResolveWallet is ResolveByTimestamp with one exception: the balance is
// judged on its own timestamp. When the local record wins but the remote
// balance changed later, the remote balance replaces the local one.
func ResolveWallet(local, remote model.Wallet) model.Wallet {
	if !firstWins(local, remote) {
		return remote
	}
	rb, okR := remote.BalanceFreshness()
	if !okR {
		return local
	}
	if lb, okL := local.BalanceFreshness(); okL && !rb.After(lb) {
		return local
	}
	local.Balance = remote.Balance
	local.BalanceUpdatedAt = remote.BalanceUpdatedAt
	return local
}

// ResolveBudget is last-writer-wins.
func ResolveBudget(local, remote model.Budget) model.Budget {
	return ResolveByTimestamp(local, remote)
}
