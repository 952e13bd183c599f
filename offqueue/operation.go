// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ASIK-R/my-budget-buddy-sub000/model"
)

// ErrUnknownOpType is returned for operation types outside the closed set.
// Retrying cannot fix it, so such operations fail permanently.
var ErrUnknownOpType = errors.New("unknown operation type")

// OpType identifies what a queued operation does.
type OpType string

const (
	AddTransaction         OpType = "ADD_TRANSACTION"
	AddWallet              OpType = "ADD_WALLET"
	UpdateWallet           OpType = "UPDATE_WALLET"
	DeleteWallet           OpType = "DELETE_WALLET"
	AddBudget              OpType = "ADD_BUDGET"
	TransferBetweenWallets OpType = "TRANSFER_BETWEEN_WALLETS"
)

// Valid reports whether t belongs to the closed set of operation types.
func (t OpType) Valid() bool {
	switch t {
	case AddTransaction, AddWallet, UpdateWallet, DeleteWallet, AddBudget, TransferBetweenWallets:
		return true
	default:
		return false
	}
}

// Priority orders operations in the queue: high before normal before low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// normalize maps anything outside the known set to PriorityNormal.
func (p Priority) normalize() Priority {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return p
	default:
		return PriorityNormal
	}
}

// QueuedOperation is a mutation waiting to be applied to the remote service.
type QueuedOperation struct {
	ID          string          `json:"id"`
	Type        OpType          `json:"type"`
	Data        json.RawMessage `json:"data"`
	Timestamp   int64           `json:"timestamp"` // enqueue time, epoch ms
	Attempts    int             `json:"attempts"`
	Priority    Priority        `json:"priority"`
	LastError   string          `json:"last_error,omitempty"`
	LastAttempt int64           `json:"last_attempt,omitempty"` // epoch ms
}

// NewOperation builds an operation carrying payload as its data.
func NewOperation(t OpType, payload any, priority Priority) (QueuedOperation, error) {
	if !t.Valid() {
		return QueuedOperation{}, fmt.Errorf("%w: %q", ErrUnknownOpType, t)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return QueuedOperation{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return QueuedOperation{Type: t, Data: data, Priority: priority}, nil
}

// Decode returns the typed payload for the operation type:
//
//	ADD_TRANSACTION          model.Transaction
//	ADD_WALLET               model.Wallet
//	UPDATE_WALLET            model.WalletPatch
//	DELETE_WALLET            model.WalletRef
//	ADD_BUDGET               model.Budget
//	TRANSFER_BETWEEN_WALLETS model.TransferRequest
func (op QueuedOperation) Decode() (any, error) {
	switch op.Type {
	case AddTransaction:
		return decodeAs[model.Transaction](op)
	case AddWallet:
		return decodeAs[model.Wallet](op)
	case UpdateWallet:
		p, err := decodeAs[model.WalletPatch](op)
		if err == nil && p.ID == "" {
			err = fmt.Errorf("decode %s: missing wallet id", op.Type)
		}
		return p, err
	case DeleteWallet:
		p, err := decodeAs[model.WalletRef](op)
		if err == nil && p.ID == "" {
			err = fmt.Errorf("decode %s: missing wallet id", op.Type)
		}
		return p, err
	case AddBudget:
		return decodeAs[model.Budget](op)
	case TransferBetweenWallets:
		return decodeAs[model.TransferRequest](op)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOpType, op.Type)
	}
}

func decodeAs[T any](op QueuedOperation) (T, error) {
	var v T
	if err := json.Unmarshal(op.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", op.Type, err)
	}
	return v, nil
}

func (op QueuedOperation) clone() QueuedOperation {
	if op.Data != nil {
		data := make(json.RawMessage, len(op.Data))
		copy(data, op.Data)
		op.Data = data
	}
	return op
}
