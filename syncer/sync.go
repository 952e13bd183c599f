// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ASIK-R/my-budget-buddy-sub000/conflict"
	"github.com/ASIK-R/my-budget-buddy-sub000/model"
	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
)

// SetOnline records a connectivity change. Going from offline to online runs
// Sync and returns its report; any other call returns nil.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) (*SyncReport, error) {
	c.mu.Lock()
	was := c.online
	c.online = online
	c.mu.Unlock()

	if was == online {
		return nil, nil
	}
	c.logger.Info("Connectivity changed", "online", online, "queued", c.queue.Len())
	if !online {
		return nil, nil
	}
	return c.Sync(ctx)
}

// Sync drains the queue and then reconciles local data with the remote
// service. The report is returned even when reconciling fails.
func (c *Coordinator) Sync(ctx context.Context) (*SyncReport, error) {
	report := c.Drain(ctx)
	reconciled, err := c.Reconcile(ctx)
	report.Reconciled = reconciled
	c.logger.Info("Sync finished", "summary", report.Summary())
	return report, err
}

// Drain replays queued operations through the remote once.
func (c *Coordinator) Drain(ctx context.Context) *SyncReport {
	pass := c.queue.ProcessQueue(ctx, c.remote.Execute)
	report := &SyncReport{
		Succeeded: len(pass.Succeeded),
		Pending:   pass.Pending,
		Failed:    pass.Failed,
		Skipped:   pass.Skipped,
	}
	if pass.Skipped {
		return report
	}
	c.persistQueue(ctx)
	for _, f := range pass.Failed {
		c.logger.Warn("Operation dropped from offline queue",
			"op_id", f.Op.ID, "type", f.Op.Type, "attempts", f.Op.Attempts, "error", f.Err)
		if c.onPermanentFailure != nil {
			c.onPermanentFailure(ctx, f)
		}
	}
	return report
}

// Reconcile fetches wallets, transactions and budgets from the remote
// concurrently and merges each with the local copy. Remotes that are not a
// Fetcher leave local data untouched.
func (c *Coordinator) Reconcile(ctx context.Context) (map[string]int, error) {
	fetcher, ok := c.remote.(Fetcher)
	if !ok {
		return nil, nil
	}

	collections := []string{offstore.Wallets, offstore.Transactions, offstore.Budgets}
	fetched := make([]json.RawMessage, len(collections))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range collections {
		g.Go(func() error {
			raw, err := fetcher.Fetch(gctx, name)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", name, err)
			}
			fetched[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	counts := make(map[string]int, len(collections))
	var err error
	if counts[offstore.Wallets], err = reconcileList[model.Wallet](ctx, c, offstore.Wallets, fetched[0],
		conflict.ResolveWallet, model.WalletID, c.pendingWalletDeletes()); err != nil {
		return nil, err
	}
	if counts[offstore.Transactions], err = reconcileList[model.Transaction](ctx, c, offstore.Transactions, fetched[1],
		conflict.ResolveTransaction, model.TransactionID, nil); err != nil {
		return nil, err
	}
	if counts[offstore.Budgets], err = reconcileList[model.Budget](ctx, c, offstore.Budgets, fetched[2],
		conflict.ResolveBudget, model.BudgetID, nil); err != nil {
		return nil, err
	}
	return counts, nil
}

// pendingWalletDeletes returns the ids of wallets whose DELETE_WALLET is still
// queued. The remote copy of such a wallet is stale.
func (c *Coordinator) pendingWalletDeletes() map[string]bool {
	pending := make(map[string]bool)
	for _, op := range c.queue.Queue() {
		if op.Type != offqueue.DeleteWallet {
			continue
		}
		payload, err := op.Decode()
		if err != nil {
			continue
		}
		if ref, ok := payload.(model.WalletRef); ok {
			pending[ref.ID] = true
		}
	}
	return pending
}

// reconcileList merges the fetched remote list into the local collection.
// Remote records whose id is in deleted are ignored.
func reconcileList[T any](ctx context.Context, c *Coordinator, collection string, raw json.RawMessage,
	resolve conflict.Resolver[T], id conflict.IDFunc[T], deleted map[string]bool) (int, error) {
	var fetched []T
	if err := json.Unmarshal(raw, &fetched); err != nil {
		return 0, fmt.Errorf("decode remote %s: %w", collection, err)
	}
	remote := fetched[:0]
	for _, item := range fetched {
		if !deleted[id(item)] {
			remote = append(remote, item)
		}
	}
	local, err := offstore.LoadList[T](ctx, c.store, collection)
	if err != nil {
		return 0, err
	}
	merged := conflict.Merge(local, remote, resolve, id)
	if err := c.store.Save(ctx, collection, merged); err != nil {
		return 0, err
	}
	c.invalidate(collection)
	return len(merged), nil
}

// RetryLoop drains the queue while online, waiting CalculateRetryDelay
// between passes. It returns when ctx is done.
func (c *Coordinator) RetryLoop(ctx context.Context) error {
	for {
		delay := c.queue.CalculateRetryDelay(max(1, c.queue.MinAttempts()))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if c.Online() && !c.queue.IsEmpty() {
			c.Drain(ctx)
		}
	}
}
