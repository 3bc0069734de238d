// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package postgres

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/quickdine/authcore/internal/auth"
)

// storeError wraps a driver error with code and operation. Transient
// failures additionally carry auth.CodeStoreUnavailable, which callers see
// as the error code because the innermost code wins.
func storeError(err error, code, operation string) error {
	if unavailable(err) {
		err = oops.Code(auth.CodeStoreUnavailable).Wrap(err)
	}
	return oops.Code(code).With("operation", operation).Wrap(err)
}

// unavailable reports whether err is a transient store failure worth
// retrying the whole use case for.
func unavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsTransactionRollback(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CannotConnectNow
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// uniqueViolation reports whether err is a unique constraint violation.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
