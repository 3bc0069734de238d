// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session is the server-side record of one issued refresh token.
type Session struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	TokenHash  string
	ExpiresAt  time.Time
	IsValid    bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// NewSession creates a validated, valid Session.
func NewSession(accountID ulid.ULID, tokenHash string, expiresAt, now time.Time) (*Session, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry must be in the future")
	}
	return &Session{
		ID:         ulid.Make(),
		AccountID:  accountID,
		TokenHash:  tokenHash,
		ExpiresAt:  expiresAt,
		IsValid:    true,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

// IsExpiredAt reports whether the session is expired at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// UsableAt reports whether the session may mint access tokens at t.
func (s *Session) UsableAt(t time.Time) bool {
	return s.IsValid && !s.IsExpiredAt(t)
}

// HashToken returns the hex SHA-256 of a token. Sessions are stored and
// looked up by this hash.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Touch moves last_used_at of a still valid session to at. It never
	// changes validity; touching a revoked or missing session is a no-op.
	Touch(ctx context.Context, id ulid.ULID, at time.Time) error

	// Invalidate marks a valid session invalid. Returns false when the
	// session was already invalid.
	Invalidate(ctx context.Context, id ulid.ULID) (bool, error)

	// InvalidateByAccount marks every valid session of an account invalid
	// and returns the count.
	InvalidateByAccount(ctx context.Context, accountID ulid.ULID) (int64, error)

	// ListByAccount returns the sessions of an account, newest first.
	ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*Session, error)

	// DeleteExpired removes sessions that expired before the cutoff and
	// returns the count.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Refreshed is the outcome of a successful refresh.
type Refreshed struct {
	Account *Account
	Session *Session
	Access  IssuedToken
	// Refresh is set only when the presented token was rotated.
	Refresh *IssuedToken
}

// SessionOption configures a SessionRegistry.
type SessionOption func(*SessionRegistry)

// WithRotation makes every successful refresh supersede the presented
// session with a new one.
func WithRotation(enabled bool) SessionOption {
	return func(r *SessionRegistry) {
		r.rotate = enabled
	}
}

// WithSessionLogger sets the logger for best-effort failures.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(r *SessionRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// SessionRegistry creates, validates and invalidates refresh-token sessions.
type SessionRegistry struct {
	sessions SessionRepository
	accounts AccountRepository
	tx       Transactor
	codec    *TokenCodec
	clock    Clock
	rotate   bool
	logger   *slog.Logger
}

// NewSessionRegistry creates a SessionRegistry.
func NewSessionRegistry(sessions SessionRepository, accounts AccountRepository, tx Transactor, codec *TokenCodec, clock Clock, opts ...SessionOption) (*SessionRegistry, error) {
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	if codec == nil {
		return nil, oops.Errorf("token codec is required")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	r := &SessionRegistry{
		sessions: sessions,
		accounts: accounts,
		tx:       tx,
		codec:    codec,
		clock:    clock,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Open mints a refresh token for account and persists its session.
func (r *SessionRegistry) Open(ctx context.Context, account *Account) (*Session, IssuedToken, error) {
	refresh, err := r.codec.IssueRefresh(account)
	if err != nil {
		return nil, IssuedToken{}, err
	}

	session, err := NewSession(account.ID, HashToken(refresh.Token), refresh.ExpiresAt, r.clock.Now())
	if err != nil {
		return nil, IssuedToken{}, err
	}
	if err := r.sessions.Create(ctx, session); err != nil {
		return nil, IssuedToken{}, oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return session, refresh, nil
}

// ValidateAndRotate exchanges a refresh token for a fresh access token.
//
// The session is checked before the token itself: unknown tokens fail with
// SESSION_NOT_FOUND, revoked sessions with SESSION_INVALIDATED and sessions
// past their expiry with AUTH_TOKEN_EXPIRED, whatever their validity flag.
// Token verification errors are returned unchanged.
func (r *SessionRegistry) ValidateAndRotate(ctx context.Context, refreshToken string) (*Refreshed, error) {
	session, err := r.lookup(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	if !session.IsValid {
		return nil, oops.Code(CodeSessionInvalidated).
			With("session_id", session.ID.String()).
			Errorf("session has been invalidated")
	}
	if session.IsExpiredAt(now) {
		return nil, oops.Code(CodeTokenExpired).
			With("session_id", session.ID.String()).
			With("expired_at", session.ExpiresAt).
			Errorf("session has expired")
	}

	claims, err := r.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	subject, err := claims.AccountID()
	if err != nil {
		return nil, err
	}
	if subject != session.AccountID {
		return nil, oops.Code(CodeTokenSubjectMismatch).
			With("session_id", session.ID.String()).
			Errorf("token subject does not own the session")
	}

	account, err := r.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeSessionNotFound).
				With("account_id", session.AccountID.String()).
				Errorf("session account no longer exists")
		}
		return nil, oops.Code("SESSION_ACCOUNT_LOOKUP_FAILED").
			With("operation", "get account by id").
			With("account_id", session.AccountID.String()).
			Wrap(err)
	}

	access, err := r.codec.IssueAccess(account)
	if err != nil {
		return nil, err
	}

	out := &Refreshed{Account: account, Session: session, Access: access}
	if r.rotate {
		next, refresh, err := r.Rotate(ctx, session, account)
		if err != nil {
			return nil, err
		}
		out.Session = next
		out.Refresh = &refresh
		return out, nil
	}

	if err := r.sessions.Touch(ctx, session.ID, now); err != nil {
		r.logger.WarnContext(ctx, "touch session failed",
			"session_id", session.ID.String(),
			"error", err,
		)
	}
	session.LastUsedAt = now
	return out, nil
}

// Rotate supersedes session with a newly opened one in one transaction, so
// a failed open leaves the old session valid. Only one caller can supersede
// a given session; the others fail with SESSION_INVALIDATED.
func (r *SessionRegistry) Rotate(ctx context.Context, session *Session, account *Account) (*Session, IssuedToken, error) {
	var (
		next    *Session
		refresh IssuedToken
	)
	err := r.tx.InTransaction(ctx, func(ctx context.Context) error {
		claimed, err := r.sessions.Invalidate(ctx, session.ID)
		if err != nil {
			return oops.Code("SESSION_ROTATE_FAILED").
				With("operation", "invalidate superseded session").
				With("session_id", session.ID.String()).
				Wrap(err)
		}
		if !claimed {
			return oops.Code(CodeSessionInvalidated).
				With("session_id", session.ID.String()).
				Errorf("session has been invalidated")
		}
		next, refresh, err = r.Open(ctx, account)
		return err
	})
	if err != nil {
		return nil, IssuedToken{}, err
	}
	session.IsValid = false
	return next, refresh, nil
}

// Revoke invalidates the session of refreshToken. Revoking an unknown or
// already revoked token succeeds.
func (r *SessionRegistry) Revoke(ctx context.Context, refreshToken string) error {
	session, err := r.lookup(ctx, refreshToken)
	if err != nil {
		if ErrorCode(err) == CodeSessionNotFound {
			return nil
		}
		return err
	}
	if !session.IsValid {
		return nil
	}
	if _, err := r.sessions.Invalidate(ctx, session.ID); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "invalidate session").
			With("session_id", session.ID.String()).
			Wrap(err)
	}
	session.IsValid = false
	return nil
}

// RevokeAll invalidates every session of an account and returns the count.
func (r *SessionRegistry) RevokeAll(ctx context.Context, accountID ulid.ULID) (int64, error) {
	n, err := r.sessions.InvalidateByAccount(ctx, accountID)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "invalidate account sessions").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return n, nil
}

// List returns the sessions of an account, newest first.
func (r *SessionRegistry) List(ctx context.Context, accountID ulid.ULID) ([]*Session, error) {
	sessions, err := r.sessions.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list sessions").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return sessions, nil
}

// PruneExpired deletes sessions that expired more than retention ago.
func (r *SessionRegistry) PruneExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := r.clock.Now().Add(-retention)
	n, err := r.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, oops.Code("SESSION_PRUNE_FAILED").
			With("operation", "delete expired sessions").
			With("cutoff", cutoff).
			Wrap(err)
	}
	return n, nil
}

func (r *SessionRegistry) lookup(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, oops.Code(CodeSessionNotFound).Errorf("refresh token is empty")
	}
	session, err := r.sessions.GetByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeSessionNotFound).Errorf("no session for refresh token")
		}
		return nil, oops.Code("SESSION_LOOKUP_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return session, nil
}
