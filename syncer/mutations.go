// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ASIK-R/my-budget-buddy-sub000/model"
	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
)

// submit sends op to the remote when online. Every mutation is queued at
// normal priority so replays keep enqueue order: a transfer never overtakes
// the wallets it references. On success, or when the
// failure is transient or the device is offline, apply updates the local
// store. Retryable failures and offline mutations are queued first.
func (c *Coordinator) submit(ctx context.Context, t offqueue.OpType, payload any, recordID string,
	apply func(ctx context.Context, opID string) error) (MutationResult, error) {
	op, err := offqueue.NewOperation(t, payload, offqueue.PriorityNormal)
	if err != nil {
		return MutationResult{}, err
	}
	op.ID = uuid.NewString()
	op.Timestamp = c.now().UnixMilli()
	if recordID == "" {
		recordID = op.ID
	}

	if c.Online() {
		res := c.remote.Execute(ctx, op)
		switch res.Outcome {
		case offqueue.OutcomeOK:
			if err := apply(ctx, op.ID); err != nil {
				return MutationResult{}, err
			}
			return MutationResult{ID: recordID}, nil
		case offqueue.OutcomeFatal:
			return MutationResult{}, fmt.Errorf("remote rejected %s: %w", t, res.Err)
		}
		c.logger.Info("Remote call failed, queueing operation", "type", t, "op_id", op.ID, "error", res.Err)
	}

	if _, err := c.queue.Enqueue(op); err != nil {
		return MutationResult{}, err
	}
	c.persistQueue(ctx)
	if err := apply(ctx, op.ID); err != nil {
		return MutationResult{}, err
	}
	return MutationResult{ID: recordID, Queued: true}, nil
}

// AddTransaction records a transaction. An empty ID is generated.
func (c *Coordinator) AddTransaction(ctx context.Context, tx model.Transaction) (MutationResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !tx.Type.Valid() {
		return MutationResult{}, fmt.Errorf("invalid transaction type %q", tx.Type)
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Date.IsZero() {
		tx.Date = c.now().UTC()
	}
	tx.UpdatedAt = model.Stamp(c.now())

	return c.submit(ctx, offqueue.AddTransaction, tx, tx.ID, func(ctx context.Context, _ string) error {
		defer c.invalidate(offstore.Transactions)
		return c.store.SaveItem(ctx, offstore.Transactions, tx)
	})
}

// AddWallet creates a wallet whose balance starts at its initial balance.
func (c *Coordinator) AddWallet(ctx context.Context, w model.Wallet) (MutationResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Balance == 0 {
		w.Balance = w.InitialBalance
	}
	w.UpdatedAt = model.Stamp(c.now())
	w.BalanceUpdatedAt = w.UpdatedAt

	return c.submit(ctx, offqueue.AddWallet, w, w.ID, func(ctx context.Context, _ string) error {
		defer c.invalidate(offstore.Wallets)
		return c.store.SaveItem(ctx, offstore.Wallets, w)
	})
}

// UpdateWallet applies a partial update to a wallet known locally.
func (c *Coordinator) UpdateWallet(ctx context.Context, patch model.WalletPatch) (MutationResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	current, err := c.findWallet(ctx, patch.ID)
	if err != nil {
		return MutationResult{}, err
	}
	return c.submit(ctx, offqueue.UpdateWallet, patch, patch.ID, func(ctx context.Context, _ string) error {
		defer c.invalidate(offstore.Wallets)
		return c.store.SaveItem(ctx, offstore.Wallets, patch.Apply(current, c.now()))
	})
}

// DeleteWallet removes a wallet. Deleting an unknown id is not an error.
func (c *Coordinator) DeleteWallet(ctx context.Context, id string) (MutationResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if id == "" {
		return MutationResult{}, fmt.Errorf("wallet id required")
	}
	return c.submit(ctx, offqueue.DeleteWallet, model.WalletRef{ID: id}, id, func(ctx context.Context, _ string) error {
		defer c.invalidate(offstore.Wallets)
		c.store.DeleteItem(ctx, offstore.Wallets, id)
		return nil
	})
}

// AddBudget creates a budget.
func (c *Coordinator) AddBudget(ctx context.Context, b model.Budget) (MutationResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.UpdatedAt = model.Stamp(c.now())

	return c.submit(ctx, offqueue.AddBudget, b, b.ID, func(ctx context.Context, _ string) error {
		defer c.invalidate(offstore.Budgets)
		return c.store.SaveItem(ctx, offstore.Budgets, b)
	})
}

// TransferBetweenWallets moves money between two local wallets. The transfer
// record takes the operation id, so the remote service can recognize replays.
func (c *Coordinator) TransferBetweenWallets(ctx context.Context, req model.TransferRequest) (MutationResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if req.Amount <= 0 {
		return MutationResult{}, fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}
	if req.FromWalletID == req.ToWalletID {
		return MutationResult{}, fmt.Errorf("%w: source and destination are the same wallet", ErrInvalidTransfer)
	}
	from, err := c.findWallet(ctx, req.FromWalletID)
	if err != nil {
		return MutationResult{}, err
	}
	to, err := c.findWallet(ctx, req.ToWalletID)
	if err != nil {
		return MutationResult{}, err
	}
	if from.Balance < req.Amount {
		return MutationResult{}, fmt.Errorf("%w: wallet %s has %.2f, transfer needs %.2f",
			ErrInsufficientFunds, from.ID, from.Balance, req.Amount)
	}

	return c.submit(ctx, offqueue.TransferBetweenWallets, req, "", func(ctx context.Context, opID string) error {
		defer c.invalidate(offstore.Wallets, offstore.Transfers)
		now := c.now()
		fromBalance, toBalance := from.Balance-req.Amount, to.Balance+req.Amount
		for _, w := range []model.Wallet{
			model.WalletPatch{ID: from.ID, Balance: &fromBalance}.Apply(from, now),
			model.WalletPatch{ID: to.ID, Balance: &toBalance}.Apply(to, now),
		} {
			if err := c.store.SaveItem(ctx, offstore.Wallets, w); err != nil {
				return err
			}
		}
		return c.store.SaveItem(ctx, offstore.Transfers, model.Transfer{
			ID:           opID,
			FromWalletID: req.FromWalletID,
			ToWalletID:   req.ToWalletID,
			Amount:       req.Amount,
			Note:         req.Note,
			Date:         now.UTC(),
		})
	})
}

// findWallet reads the store directly; callers hold writeMu, so the result
// cannot be overtaken by another local write.
func (c *Coordinator) findWallet(ctx context.Context, id string) (model.Wallet, error) {
	wallets, err := offstore.LoadList[model.Wallet](ctx, c.store, offstore.Wallets)
	if err != nil {
		return model.Wallet{}, err
	}
	for _, w := range wallets {
		if w.ID == id {
			return w, nil
		}
	}
	return model.Wallet{}, fmt.Errorf("%w: %q", ErrWalletNotFound, id)
}
