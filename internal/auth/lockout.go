// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// Lockout defaults.
const (
	// DefaultMaxLoginAttempts is the number of consecutive failures that locks an account.
	DefaultMaxLoginAttempts = 5

	// DefaultLockoutDuration is how long a locked account stays locked.
	DefaultLockoutDuration = 15 * time.Minute
)

// LockState is the lockout state of an account at a point in time.
type LockState int

// Lock states.
const (
	// LockOpen allows login attempts.
	LockOpen LockState = iota
	// LockLocked rejects login attempts until the window elapses.
	LockLocked
	// LockExpired is over the threshold with an elapsed window. The counters
	// must be reconciled before the next attempt.
	LockExpired
)

func (s LockState) String() string {
	switch s {
	case LockOpen:
		return "open"
	case LockLocked:
		return "locked"
	case LockExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// LockoutPolicy configures the Login Attempt Guard.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy returns the default policy: 5 attempts, 15 minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: DefaultMaxLoginAttempts, Duration: DefaultLockoutDuration}
}

// LoginGuard tracks consecutive login failures and enforces a timed lockout.
// The store is the only state; leaving the locked state is evaluated lazily
// when the account is next seen.
type LoginGuard struct {
	accounts AccountRepository
	policy   LockoutPolicy
	clock    Clock
}

// NewLoginGuard creates a LoginGuard.
func NewLoginGuard(accounts AccountRepository, policy LockoutPolicy, clock Clock) (*LoginGuard, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if policy.MaxAttempts < 1 {
		return nil, oops.Code("LOCKOUT_POLICY_INVALID").
			With("max_attempts", policy.MaxAttempts).
			Errorf("max attempts must be at least 1")
	}
	if policy.Duration <= 0 {
		return nil, oops.Code("LOCKOUT_POLICY_INVALID").
			With("duration", policy.Duration).
			Errorf("lockout duration must be positive")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &LoginGuard{accounts: accounts, policy: policy, clock: clock}, nil
}

// State computes the lock state of account at the current time. It never
// writes.
func (g *LoginGuard) State(account *Account) LockState {
	if account.FailedLoginCount < g.policy.MaxAttempts {
		return LockOpen
	}
	until, ok := g.LockedUntil(account)
	if ok && g.clock.Now().Before(until) {
		return LockLocked
	}
	return LockExpired
}

// LockedUntil returns the end of the lockout window measured from the
// failure that tripped the threshold. ok is false when no failure is recorded.
func (g *LoginGuard) LockedUntil(account *Account) (until time.Time, ok bool) {
	if account.LastFailedLoginAt == nil {
		return time.Time{}, false
	}
	return account.LastFailedLoginAt.Add(g.policy.Duration), true
}

// Reconcile resets the failure counters of an account whose lockout window
// has elapsed.
func (g *LoginGuard) Reconcile(ctx context.Context, account *Account) error {
	if err := g.accounts.ResetLoginFailures(ctx, account.ID); err != nil {
		return oops.Code("LOCKOUT_RECONCILE_FAILED").
			With("operation", "reset login failures").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	account.FailedLoginCount = 0
	account.LastFailedLoginAt = nil
	return nil
}

// MayAttempt reports whether a login attempt is allowed for account.
// An expired lockout is reconciled before returning true.
func (g *LoginGuard) MayAttempt(ctx context.Context, account *Account) (bool, error) {
	switch g.State(account) {
	case LockLocked:
		return false, nil
	case LockExpired:
		if err := g.Reconcile(ctx, account); err != nil {
			return false, err
		}
	}
	return true, nil
}

// RecordFailure counts one failed attempt. The increment is atomic in the
// store; the window start only moves while the account is below the
// threshold.
func (g *LoginGuard) RecordFailure(ctx context.Context, account *Account) error {
	count, lastFailed, err := g.accounts.RecordLoginFailure(ctx, account.ID, g.clock.Now(), g.policy.MaxAttempts)
	if err != nil {
		return oops.Code("LOCKOUT_RECORD_FAILED").
			With("operation", "record login failure").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	account.FailedLoginCount = count
	account.LastFailedLoginAt = lastFailed
	return nil
}

// RecordSuccess clears the failure counters.
func (g *LoginGuard) RecordSuccess(ctx context.Context, account *Account) error {
	if account.FailedLoginCount == 0 && account.LastFailedLoginAt == nil {
		return nil
	}
	if err := g.accounts.ResetLoginFailures(ctx, account.ID); err != nil {
		return oops.Code("LOCKOUT_RESET_FAILED").
			With("operation", "reset login failures").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	account.FailedLoginCount = 0
	account.LastFailedLoginAt = nil
	return nil
}
