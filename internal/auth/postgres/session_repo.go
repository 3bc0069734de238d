// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quickdine/authcore/internal/auth"
)

const sessionColumns = `id, account_id, token_hash, expires_at, is_valid, created_at, last_used_at`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		session.ID.String(),
		session.AccountID.String(),
		session.TokenHash,
		session.ExpiresAt,
		session.IsValid,
		session.CreatedAt,
		session.LastUsedAt,
	)
	if err != nil {
		return oops.With("account_id", session.AccountID.String()).
			Wrap(storeError(err, "SESSION_INSERT_FAILED", "insert session"))
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, storeError(err, "SESSION_GET_BY_TOKEN_FAILED", "get session by token hash")
	}
	return session, nil
}

// Touch records the last use of a session. Revoked sessions are skipped so
// a refresh racing a logout cannot revive them.
func (r *SessionRepository) Touch(ctx context.Context, id ulid.ULID, at time.Time) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE sessions SET last_used_at = $2
		WHERE id = $1 AND is_valid
	`, id.String(), at)
	if err != nil {
		return oops.With("session_id", id.String()).
			Wrap(storeError(err, "SESSION_TOUCH_FAILED", "touch session"))
	}
	return nil
}

// Invalidate marks a valid session invalid. The conditional update makes
// exactly one of several concurrent callers win.
func (r *SessionRepository) Invalidate(ctx context.Context, id ulid.ULID) (bool, error) {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE sessions SET is_valid = FALSE
		WHERE id = $1 AND is_valid
	`, id.String())
	if err != nil {
		return false, oops.With("session_id", id.String()).
			Wrap(storeError(err, "SESSION_INVALIDATE_FAILED", "invalidate session"))
	}
	return result.RowsAffected() == 1, nil
}

// InvalidateByAccount marks every valid session of an account invalid.
func (r *SessionRepository) InvalidateByAccount(ctx context.Context, accountID ulid.ULID) (int64, error) {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE sessions SET is_valid = FALSE
		WHERE account_id = $1 AND is_valid
	`, accountID.String())
	if err != nil {
		return 0, oops.With("account_id", accountID.String()).
			Wrap(storeError(err, "SESSION_INVALIDATE_BY_ACCOUNT_FAILED", "invalidate sessions by account"))
	}
	// No ErrNotFound when nothing matched; an account without sessions is valid.
	return result.RowsAffected(), nil
}

// ListByAccount returns the sessions of an account, newest first.
func (r *SessionRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.Session, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID.String())
	if err != nil {
		return nil, oops.With("account_id", accountID.String()).
			Wrap(storeError(err, "SESSION_LIST_BY_ACCOUNT_FAILED", "list sessions by account"))
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").
				With("operation", "scan session row").
				Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "SESSION_ROWS_ERROR", "iterate session rows")
	}
	return sessions, nil
}

// DeleteExpired removes sessions that expired before the cutoff.
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := conn(ctx, r.db).Exec(ctx, `
		DELETE FROM sessions WHERE expires_at < $1
	`, before)
	if err != nil {
		return 0, storeError(err, "SESSION_DELETE_EXPIRED_FAILED", "delete expired sessions")
	}
	return result.RowsAffected(), nil
}

// scanSession scans a row into a Session.
// Callers are responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr        string
		accountIDStr string
		session      auth.Session
	)
	err := row.Scan(
		&idStr,
		&accountIDStr,
		&session.TokenHash,
		&session.ExpiresAt,
		&session.IsValid,
		&session.CreatedAt,
		&session.LastUsedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with query context
	}

	if session.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").
			With("operation", "parse session id").
			With("id", idStr).
			Wrap(err)
	}
	if session.AccountID, err = ulid.Parse(accountIDStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT_ID").
			With("operation", "parse account id").
			With("account_id", accountIDStr).
			Wrap(err)
	}
	return &session, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
