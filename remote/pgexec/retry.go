// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pgexec

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
)

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}

// classify turns a database error into a queue outcome. Server-side errors
// are fatal unless they are transient by class; anything that never reached
// the server is retried.
func classify(err error) offqueue.Result {
	if err == nil {
		return offqueue.OK()
	}
	if isRetryablePGTxError(err) {
		return offqueue.Retry(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection_exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient_resources
			strings.HasPrefix(pgErr.Code, "57"): // operator_intervention (shutdown, cancel)
			return offqueue.Retry(err)
		default:
			return offqueue.Fatal(err)
		}
	}

	if errors.Is(err, errWalletNotFound) || errors.Is(err, offqueue.ErrUnknownOpType) {
		return offqueue.Fatal(err)
	}
	// connection failures, timeouts and cancellation
	return offqueue.Retry(err)
}
