// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

// Package store provides the PostgreSQL connection and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig configures the connection pool.
type PoolConfig struct {
	// URL is a postgres:// connection string.
	URL string
	// MaxConns caps open connections; zero keeps the pgx default.
	MaxConns int32
	// ConnectAttempts is how many times the initial ping is tried.
	ConnectAttempts uint64
	// ConnectBackoff is the first delay between ping attempts.
	ConnectBackoff time.Duration
}

// Connect opens a pool and waits until the database answers a ping,
// backing off exponentially between attempts.
func Connect(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("STORE_UNAVAILABLE").With("operation", "create pool").Wrap(err)
	}

	attempts := max(cfg.ConnectAttempts, 1)
	backoff := cfg.ConnectBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	b := retry.WithMaxRetries(attempts-1, retry.WithCappedDuration(10*time.Second, retry.NewExponential(backoff)))

	attempt := 0
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready",
				"attempt", attempt,
				"max_attempts", attempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_UNAVAILABLE").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}
