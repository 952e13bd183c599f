// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pgexec

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EnsureSchema creates the schema and its tables if they don't exist
func (e *Executor) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{e.schema}.Sanitize(),

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ` + e.table("wallets") + ` (
			id                 TEXT PRIMARY KEY,
			owner_id           TEXT,
			name               TEXT NOT NULL,
			type               TEXT,
			balance            DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (balance >= 0),
			initial_balance    DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			balance_updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ` + e.table("transactions") + ` (
			id          TEXT PRIMARY KEY,
			owner_id    TEXT,
			wallet_id   TEXT,
			type        TEXT NOT NULL CHECK (type IN ('income','expense','transfer')),
			category    TEXT NOT NULL DEFAULT '',
			amount      DOUBLE PRECISION NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			date        TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ` + e.table("budgets") + ` (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT,
			category   TEXT NOT NULL,
			"limit"    DOUBLE PRECISION NOT NULL CHECK ("limit" >= 0),
			period     TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ` + e.table("transfers") + ` (
			id             TEXT PRIMARY KEY,
			from_wallet_id TEXT NOT NULL REFERENCES ` + e.table("wallets") + `(id) ON DELETE CASCADE,
			to_wallet_id   TEXT NOT NULL REFERENCES ` + e.table("wallets") + `(id) ON DELETE CASCADE,
			amount         DOUBLE PRECISION NOT NULL CHECK (amount > 0),
			note           TEXT,
			date           TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (from_wallet_id <> to_wallet_id)
		)`,

		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS transactions_date_idx ON ` + e.table("transactions") + ` (date)`,
	}

	return pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create schema %s: %w", e.schema, err)
			}
		}
		return nil
	})
}

func (e *Executor) table(name string) string {
	return pgx.Identifier{e.schema, name}.Sanitize()
}
