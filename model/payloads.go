// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"time"
)

// WalletPatch is the payload of an UPDATE_WALLET operation. Nil fields are
// left untouched.
type WalletPatch struct {
	ID             string   `json:"id"`
	Name           *string  `json:"name,omitempty"`
	Type           *string  `json:"type,omitempty"`
	Balance        *float64 `json:"balance,omitempty"`
	InitialBalance *float64 `json:"initial_balance,omitempty"`
}

// Apply returns w with the patch applied. UpdatedAt is always bumped, and
// BalanceUpdatedAt only when the balance changes.
func (p WalletPatch) Apply(w Wallet, now time.Time) Wallet {
	if p.Name != nil {
		w.Name = *p.Name
	}
	if p.Type != nil {
		w.Type = *p.Type
	}
	if p.InitialBalance != nil {
		w.InitialBalance = *p.InitialBalance
	}
	if p.Balance != nil {
		w.Balance = *p.Balance
		w.BalanceUpdatedAt = Stamp(now)
	}
	w.UpdatedAt = Stamp(now)
	return w
}

// WalletRef is the payload of a DELETE_WALLET operation.
type WalletRef struct {
	ID string `json:"id"`
}

// TransferRequest is the payload of a TRANSFER_BETWEEN_WALLETS operation.
type TransferRequest struct {
	FromWalletID string  `json:"from_wallet_id"`
	ToWalletID   string  `json:"to_wallet_id"`
	Amount       float64 `json:"amount"`
	Note         string  `json:"note,omitempty"`
}
