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

const accountColumns = `id, email, name, password_hash, role, tenant_id,
	failed_login_count, last_failed_login_at, reset_token_hash, reset_token_expires_at,
	created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		account.ID.String(),
		account.Email,
		account.Name,
		account.PasswordHash,
		string(account.Role),
		account.TenantID,
		account.FailedLoginCount,
		account.LastFailedLoginAt,
		account.ResetTokenHash,
		account.ResetTokenExpiresAt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if uniqueViolation(err) {
		return oops.Code(auth.CodeDuplicateAccount).
			With("email", account.Email).
			Wrap(err)
	}
	if err != nil {
		return storeError(err, "ACCOUNT_CREATE_FAILED", "insert account")
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id.String())

	return r.getOne(row, "get account by id", "account_id", id.String())
}

// GetByIDForUpdate retrieves an account and locks its row until the
// surrounding transaction ends.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, id.String())

	return r.getOne(row, "get account by id for update", "account_id", id.String())
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
	`, email)

	return r.getOne(row, "get account by email", "email", email)
}

// Update writes the profile, password hash and reset ticket of an account.
func (r *AccountRepository) Update(ctx context.Context, account *auth.Account) error {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE accounts SET
			email = $2,
			name = $3,
			password_hash = $4,
			role = $5,
			tenant_id = $6,
			reset_token_hash = $7,
			reset_token_expires_at = $8,
			updated_at = $9
		WHERE id = $1
	`,
		account.ID.String(),
		account.Email,
		account.Name,
		account.PasswordHash,
		string(account.Role),
		account.TenantID,
		account.ResetTokenHash,
		account.ResetTokenExpiresAt,
		account.UpdatedAt,
	)
	if uniqueViolation(err) {
		return oops.Code(auth.CodeDuplicateAccount).
			With("email", account.Email).
			Wrap(err)
	}
	if err != nil {
		return oops.With("account_id", account.ID.String()).
			Wrap(storeError(err, "ACCOUNT_UPDATE_FAILED", "update account"))
	}
	if result.RowsAffected() == 0 {
		return oops.With("account_id", account.ID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpgradePasswordHash swaps the password hash only while previousHash is
// still stored, so a rehash on login cannot undo a concurrent reset.
func (r *AccountRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, previousHash, newHash string, at time.Time) (bool, error) {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = $3
		WHERE id = $1 AND password_hash = $4
	`, id.String(), newHash, at, previousHash)
	if err != nil {
		return false, oops.With("account_id", id.String()).
			Wrap(storeError(err, "ACCOUNT_REHASH_FAILED", "upgrade password hash"))
	}
	return result.RowsAffected() == 1, nil
}

// RecordLoginFailure increments the failure counter in one statement, so
// concurrent failures are all counted. last_failed_login_at only moves
// while the previous count is below threshold, which pins the lockout
// window to the failure that reached it.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, at time.Time, threshold int) (int, *time.Time, error) {
	var (
		count      int
		lastFailed *time.Time
	)
	err := conn(ctx, r.db).QueryRow(ctx, `
		UPDATE accounts SET
			last_failed_login_at = CASE
				WHEN failed_login_count < $3 THEN $2
				ELSE last_failed_login_at
			END,
			failed_login_count = failed_login_count + 1
		WHERE id = $1
		RETURNING failed_login_count, last_failed_login_at
	`, id.String(), at, threshold).Scan(&count, &lastFailed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, nil, oops.With("account_id", id.String()).
			Wrap(storeError(err, "ACCOUNT_RECORD_FAILURE_FAILED", "increment failed_login_count"))
	}
	return count, lastFailed, nil
}

// ResetLoginFailures clears the failure counter and timestamp.
func (r *AccountRepository) ResetLoginFailures(ctx context.Context, id ulid.ULID) error {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE accounts SET failed_login_count = 0, last_failed_login_at = NULL
		WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.With("account_id", id.String()).
			Wrap(storeError(err, "ACCOUNT_RESET_FAILURES_FAILED", "reset failed_login_count"))
	}
	if result.RowsAffected() == 0 {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetResetTicket stores the outstanding reset ticket, replacing any
// previous one.
func (r *AccountRepository) SetResetTicket(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE accounts SET reset_token_hash = $2, reset_token_expires_at = $3
		WHERE id = $1
	`, id.String(), tokenHash, expiresAt)
	if err != nil {
		return oops.With("account_id", id.String()).
			Wrap(storeError(err, "ACCOUNT_SET_RESET_TICKET_FAILED", "set reset ticket"))
	}
	if result.RowsAffected() == 0 {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// getOne scans a single account row, mapping a missing row to
// auth.ErrNotFound.
func (r *AccountRepository) getOne(row pgx.Row, operation, key, value string) (*auth.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With(key, value).
			Wrap(storeError(err, "ACCOUNT_GET_FAILED", operation))
	}
	return account, nil
}

// scanAccount scans a row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr   string
		role    string
		account auth.Account
	)
	err := row.Scan(
		&idStr,
		&account.Email,
		&account.Name,
		&account.PasswordHash,
		&role,
		&account.TenantID,
		&account.FailedLoginCount,
		&account.LastFailedLoginAt,
		&account.ResetTokenHash,
		&account.ResetTokenExpiresAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with query context
	}

	account.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}
	account.Role = auth.Role(role)
	return &account, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
