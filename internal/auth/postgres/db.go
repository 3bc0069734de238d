// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

// Package postgres provides PostgreSQL implementations of the auth
// repositories.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/quickdine/authcore/internal/auth"
)

// querier is the statement surface shared by a pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// conn returns the transaction carried by ctx, or db when there is none.
func conn(ctx context.Context, db DB) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db
}

// Transactor implements auth.Transactor. Repositories built on the same DB
// run their statements inside the transaction when handed the context
// passed to fn.
type Transactor struct {
	db DB
}

// NewTransactor creates a new Transactor.
func NewTransactor(db DB) *Transactor {
	return &Transactor{db: db}
}

// InTransaction runs fn in a transaction that commits when fn returns nil
// and rolls back otherwise. Nested calls join the outer transaction.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return storeError(err, "TX_BEGIN_FAILED", "begin transaction")
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return oops.With("rollback_error", rbErr.Error()).Wrap(err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storeError(err, "TX_COMMIT_FAILED", "commit transaction")
	}
	return nil
}

var _ auth.Transactor = (*Transactor)(nil)
