// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes      = 32        // 32 bytes = 64 hex chars
	DefaultResetTokenTTL = time.Hour // 1 hour expiry
)

// GenerateResetToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is delivered to the user; only the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// ResetFlow issues and consumes single-use, time-boxed password reset tickets.
type ResetFlow struct {
	accounts AccountRepository
	sessions SessionRepository
	tx       Transactor
	hasher   PasswordHasher
	clock    Clock
	ttl      time.Duration
}

// NewResetFlow creates a ResetFlow. Tickets expire ttl after issue.
func NewResetFlow(accounts AccountRepository, sessions SessionRepository, tx Transactor, hasher PasswordHasher, clock Clock, ttl time.Duration) (*ResetFlow, error) {
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if ttl <= 0 {
		return nil, oops.Code("RESET_CONFIG_INVALID").With("ttl", ttl).Errorf("reset token lifetime must be positive")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ResetFlow{
		accounts: accounts,
		sessions: sessions,
		tx:       tx,
		hasher:   hasher,
		clock:    clock,
		ttl:      ttl,
	}, nil
}

// Begin issues a reset ticket for account, replacing any outstanding one,
// and returns the plaintext token. The token is not retrievable later.
func (f *ResetFlow) Begin(ctx context.Context, account *Account) (string, error) {
	token, hash, err := GenerateResetToken()
	if err != nil {
		return "", err
	}

	expiresAt := f.clock.Now().Add(f.ttl)
	if err := f.accounts.SetResetTicket(ctx, account.ID, hash, expiresAt); err != nil {
		return "", oops.Code("RESET_BEGIN_FAILED").
			With("operation", "store reset ticket").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	account.ResetTokenHash = &hash
	account.ResetTokenExpiresAt = &expiresAt
	return token, nil
}

// Verify checks candidate against the outstanding ticket of account.
func (f *ResetFlow) Verify(account *Account, candidate string) error {
	if !account.HasResetTicket() {
		return oops.Code(CodeResetTicketMissing).
			With("account_id", account.ID.String()).
			Errorf("no password reset is outstanding")
	}
	if f.clock.Now().After(*account.ResetTokenExpiresAt) {
		return oops.Code(CodeResetTicketExpired).
			With("account_id", account.ID.String()).
			With("expired_at", *account.ResetTokenExpiresAt).
			Errorf("password reset token has expired")
	}
	computed := HashToken(candidate)
	if candidate == "" || subtle.ConstantTimeCompare([]byte(computed), []byte(*account.ResetTokenHash)) != 1 {
		return oops.Code(CodeResetTicketMismatch).
			With("account_id", account.ID.String()).
			Errorf("password reset token does not match")
	}
	return nil
}

// Complete consumes the ticket and sets a new password.
//
// The password change, the clearing of the ticket and the invalidation of
// the account's sessions happen in one transaction against a locked account
// row, so a ticket can be consumed once.
func (f *ResetFlow) Complete(ctx context.Context, account *Account, candidate, newPassword string) error {
	if err := f.Verify(account, candidate); err != nil {
		return err
	}
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	newHash, err := f.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_HASH_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	var updated *Account
	err = f.tx.InTransaction(ctx, func(ctx context.Context) error {
		current, err := f.accounts.GetByIDForUpdate(ctx, account.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code(CodeResetTicketMissing).
					With("account_id", account.ID.String()).
					Errorf("account no longer exists")
			}
			return oops.Code("RESET_COMPLETE_FAILED").
				With("operation", "lock account").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		if err := f.Verify(current, candidate); err != nil {
			return err
		}

		current.PasswordHash = newHash
		current.ResetTokenHash = nil
		current.ResetTokenExpiresAt = nil
		current.UpdatedAt = f.clock.Now()
		if err := f.accounts.Update(ctx, current); err != nil {
			return oops.Code("RESET_COMPLETE_FAILED").
				With("operation", "update password").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		if _, err := f.sessions.InvalidateByAccount(ctx, current.ID); err != nil {
			return oops.Code("RESET_COMPLETE_FAILED").
				With("operation", "invalidate sessions").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return err
	}

	*account = *updated
	return nil
}
