// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package model defines the records the sync engine stores, queues and
// reconciles: wallets, transactions, budgets, transfers and categories,
// together with the payload shapes carried by queued operations.
package model
