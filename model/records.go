// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"time"
)

// TransactionType classifies a transaction.
type TransactionType string

const (
	TransactionIncome   TransactionType = "income"
	TransactionExpense  TransactionType = "expense"
	TransactionTransfer TransactionType = "transfer"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionIncome, TransactionExpense, TransactionTransfer:
		return true
	default:
		return false
	}
}

// Wallet is an account holding a balance.
//
// Balance >= 0 is a business rule checked before a wallet reaches the engine;
// nothing in here clamps it.
type Wallet struct {
	ID               string     `json:"id,omitempty"`
	OwnerID          string     `json:"owner_id,omitempty"`
	Name             string     `json:"name"`
	Type             string     `json:"type,omitempty"`
	Balance          float64    `json:"balance"`
	InitialBalance   float64    `json:"initial_balance"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
	BalanceUpdatedAt *time.Time `json:"balance_updated_at,omitempty"`
}

// Transaction is a single income, expense or transfer entry.
type Transaction struct {
	ID          string          `json:"id,omitempty"`
	OwnerID     string          `json:"owner_id,omitempty"`
	WalletID    string          `json:"wallet_id,omitempty"`
	Type        TransactionType `json:"type"`
	Category    string          `json:"category"`
	Amount      float64         `json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
}

// Budget caps spending for one category.
type Budget struct {
	ID        string     `json:"id,omitempty"`
	OwnerID   string     `json:"owner_id,omitempty"`
	Category  string     `json:"category"`
	Limit     float64    `json:"limit"`
	Period    string     `json:"period,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Transfer records money moved between two wallets.
type Transfer struct {
	ID           string    `json:"id,omitempty"`
	FromWalletID string    `json:"from_wallet_id"`
	ToWalletID   string    `json:"to_wallet_id"`
	Amount       float64   `json:"amount"`
	Note         string    `json:"note,omitempty"`
	Date         time.Time `json:"date"`
}

// Category is a user-defined transaction category.
type Category struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Type TransactionType `json:"type,omitempty"`
}

// Settings is the single object stored in the settings collection.
type Settings map[string]any

// Freshness returns the record's last-modified time, if it carries one.
func (w Wallet) Freshness() (time.Time, bool) { return deref(w.UpdatedAt) }

// BalanceFreshness returns the time the balance was last changed, if known.
func (w Wallet) BalanceFreshness() (time.Time, bool) { return deref(w.BalanceUpdatedAt) }

func (t Transaction) Freshness() (time.Time, bool) { return deref(t.UpdatedAt) }

func (b Budget) Freshness() (time.Time, bool) { return deref(b.UpdatedAt) }

// RecordID helpers used by the resolver and the store.
func WalletID(w Wallet) string           { return w.ID }
func TransactionID(t Transaction) string { return t.ID }
func BudgetID(b Budget) string           { return b.ID }
func TransferID(t Transfer) string       { return t.ID }

func deref(t *time.Time) (time.Time, bool) {
	if t == nil || t.IsZero() {
		return time.Time{}, false
	}
	return *t, true
}

// Stamp returns a pointer to a copy of t, truncated to milliseconds so that
// values survive a JSON round trip unchanged.
func Stamp(t time.Time) *time.Time {
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}
