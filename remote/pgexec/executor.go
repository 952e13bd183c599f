// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package pgexec applies queued operations directly to a PostgreSQL data
// service. Every write is keyed so that replaying an operation is harmless.
package pgexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ASIK-R/my-budget-buddy-sub000/model"
	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
)

var errWalletNotFound = errors.New("wallet not found")

// Config holds configuration for the Executor
type Config struct {
	Schema string // e.g. "budget"
	UserID string // stamped as owner_id when a payload carries none
}

func DefaultConfig() *Config {
	return &Config{Schema: "public"}
}

// Executor writes operations into PostgreSQL through a pgx pool.
type Executor struct {
	pool   *pgxpool.Pool
	schema string
	userID string
	logger *slog.Logger
}

// New creates an executor on pool. Call EnsureSchema before the first Execute
// unless the tables already exist.
func New(pool *pgxpool.Pool, config *Config, logger *slog.Logger) (*Executor, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Schema == "" {
		return nil, fmt.Errorf("config.Schema must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{pool: pool, schema: config.Schema, userID: config.UserID, logger: logger}, nil
}

// Execute applies op and classifies the outcome.
func (e *Executor) Execute(ctx context.Context, op offqueue.QueuedOperation) offqueue.Result {
	payload, err := op.Decode()
	if err != nil {
		return offqueue.Fatal(err)
	}

	start := time.Now()
	switch p := payload.(type) {
	case model.Transaction:
		err = e.insertTransaction(ctx, op.ID, p)
	case model.Wallet:
		err = e.insertWallet(ctx, op.ID, p)
	case model.WalletPatch:
		err = e.updateWallet(ctx, p)
	case model.WalletRef:
		err = e.deleteWallet(ctx, p.ID)
	case model.Budget:
		err = e.insertBudget(ctx, op.ID, p)
	case model.TransferRequest:
		err = e.transfer(ctx, op.ID, p)
	default:
		err = fmt.Errorf("%w: %q", offqueue.ErrUnknownOpType, op.Type)
	}

	res := classify(err)
	if res.Outcome != offqueue.OutcomeOK {
		e.logger.Debug("Database rejected operation",
			"op_id", op.ID, "type", op.Type, "outcome", res.Outcome, "error", err)
	} else {
		e.logger.Debug("Operation applied", "op_id", op.ID, "type", op.Type, "duration", time.Since(start))
	}
	return res
}

func (e *Executor) owner(id string) string {
	if id != "" {
		return id
	}
	return e.userID
}

func (e *Executor) insertTransaction(ctx context.Context, opID string, t model.Transaction) error {
	_, err := e.pool.Exec(ctx, `
		INSERT INTO `+e.table("transactions")+`
			(id, owner_id, wallet_id, type, category, amount, description, date, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, COALESCE($9, now()))
		ON CONFLICT (id) DO NOTHING`,
		firstNonEmpty(t.ID, opID), e.owner(t.OwnerID), t.WalletID, string(t.Type), t.Category,
		t.Amount, t.Description, t.Date, t.UpdatedAt)
	return err
}

func (e *Executor) insertWallet(ctx context.Context, opID string, w model.Wallet) error {
	_, err := e.pool.Exec(ctx, `
		INSERT INTO `+e.table("wallets")+`
			(id, owner_id, name, type, balance, initial_balance, updated_at, balance_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()), COALESCE($8, now()))
		ON CONFLICT (id) DO NOTHING`,
		firstNonEmpty(w.ID, opID), e.owner(w.OwnerID), w.Name, w.Type, w.Balance, w.InitialBalance,
		w.UpdatedAt, w.BalanceUpdatedAt)
	return err
}

func (e *Executor) updateWallet(ctx context.Context, p model.WalletPatch) error {
	tag, err := e.pool.Exec(ctx, `
		UPDATE `+e.table("wallets")+` SET
			name               = COALESCE($2, name),
			type               = COALESCE($3, type),
			balance            = COALESCE($4, balance),
			initial_balance    = COALESCE($5, initial_balance),
			updated_at         = now(),
			balance_updated_at = CASE WHEN $4::double precision IS NULL THEN balance_updated_at ELSE now() END
		WHERE id = $1`,
		p.ID, p.Name, p.Type, p.Balance, p.InitialBalance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", p.ID, errWalletNotFound)
	}
	return nil
}

// deleteWallet succeeds when the wallet is already gone.
func (e *Executor) deleteWallet(ctx context.Context, id string) error {
	_, err := e.pool.Exec(ctx, `DELETE FROM `+e.table("wallets")+` WHERE id = $1`, id)
	return err
}

func (e *Executor) insertBudget(ctx context.Context, opID string, b model.Budget) error {
	_, err := e.pool.Exec(ctx, `
		INSERT INTO `+e.table("budgets")+` (id, owner_id, category, "limit", period, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), COALESCE($6, now()))
		ON CONFLICT (id) DO NOTHING`,
		firstNonEmpty(b.ID, opID), e.owner(b.OwnerID), b.Category, b.Limit, b.Period, b.UpdatedAt)
	return err
}

// transfer records the transfer under the operation id and moves the money
// in one transaction. A replay finds the transfer row and changes nothing.
func (e *Executor) transfer(ctx context.Context, opID string, r model.TransferRequest) error {
	return pgx.BeginTxFunc(ctx, e.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO `+e.table("transfers")+` (id, from_wallet_id, to_wallet_id, amount, note)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			ON CONFLICT (id) DO NOTHING`,
			opID, r.FromWalletID, r.ToWalletID, r.Amount, r.Note)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		for _, leg := range []struct {
			id    string
			delta float64
		}{{r.FromWalletID, -r.Amount}, {r.ToWalletID, r.Amount}} {
			tag, err := tx.Exec(ctx, `
				UPDATE `+e.table("wallets")+`
				SET balance = balance + $2, updated_at = now(), balance_updated_at = now()
				WHERE id = $1`, leg.id, leg.delta)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("transfer %s: %w: %s", opID, errWalletNotFound, leg.id)
			}
		}
		return nil
	})
}

var fetchable = map[string]string{
	"wallets":      "wallets",
	"accounts":     "wallets",
	"transactions": "transactions",
	"budgets":      "budgets",
	"transfers":    "transfers",
}

// Fetch returns every row of collection as a JSON array ordered by id.
func (e *Executor) Fetch(ctx context.Context, collection string) (json.RawMessage, error) {
	table, ok := fetchable[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q is not stored remotely", collection)
	}
	var raw []byte
	err := e.pool.QueryRow(ctx,
		`SELECT COALESCE(json_agg(t ORDER BY t.id), '[]'::json) FROM `+e.table(table)+` t`).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", collection, err)
	}
	return json.RawMessage(raw), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
