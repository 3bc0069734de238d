// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the privilege tier carried into access tokens.
type Role string

// Known roles.
const (
	RoleTenantAdmin Role = "tenant_admin"
	RoleStaff       Role = "staff"
	RoleCustomer    Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleTenantAdmin, RoleStaff, RoleCustomer:
		return true
	}
	return false
}

// Name length constraints.
const (
	MaxNameLength  = 100
	MaxEmailLength = 254
)

// Account represents a credential holder.
type Account struct {
	ID                  ulid.ULID
	Email               string
	Name                string
	PasswordHash        string
	Role                Role
	TenantID            *string
	FailedLoginCount    int
	LastFailedLoginAt   *time.Time
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewAccount creates a validated Account. The email is normalized.
func NewAccount(email, name, passwordHash string, role Role, tenantID *string, now time.Time) (*Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, oops.Code(CodeInvalidRole).With("role", string(role)).Errorf("unknown role %q", role)
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if tenantID != nil && strings.TrimSpace(*tenantID) == "" {
		tenantID = nil
	}

	return &Account{
		ID:           ulid.Make(),
		Email:        normalized,
		Name:         strings.TrimSpace(name),
		PasswordHash: passwordHash,
		Role:         role,
		TenantID:     tenantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasResetTicket reports whether a password reset is outstanding.
func (a *Account) HasResetTicket() bool {
	return a.ResetTokenHash != nil && a.ResetTokenExpiresAt != nil
}

// View is the account representation returned to callers. It never
// includes credential material.
type View struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	TenantID  *string   `json:"tenant_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// View returns the public view of the account.
func (a *Account) View() View {
	return View{
		ID:        a.ID.String(),
		Email:     a.Email,
		Name:      a.Name,
		Role:      a.Role,
		TenantID:  a.TenantID,
		CreatedAt: a.CreatedAt,
	}
}

// NormalizeEmail trims and lower-cases an email address after checking
// that it parses as a bare address.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	if len(normalized) > MaxEmailLength {
		return "", oops.Code(CodeInvalidEmail).
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", oops.Code(CodeInvalidEmail).Errorf("email is not a valid address")
	}
	return normalized, nil
}

// ValidateName checks a display name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return oops.Code(CodeInvalidName).Errorf("name cannot be empty")
	}
	if len([]rune(trimmed)) > MaxNameLength {
		return oops.Code(CodeInvalidName).
			With("max", MaxNameLength).
			Errorf("name must be at most %d characters", MaxNameLength)
	}
	return nil
}

// AccountRepository manages account persistence.
//
// Implementations signal a missing account by wrapping ErrNotFound and a
// unique email violation with code CodeDuplicateAccount.
type AccountRepository interface {
	// Create stores a new account.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByIDForUpdate retrieves an account and write-locks it until the
	// surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// Update writes the profile, password hash and reset ticket of an
	// account. The login failure fields are left alone; only
	// RecordLoginFailure and ResetLoginFailures change them.
	Update(ctx context.Context, account *Account) error

	// UpgradePasswordHash replaces the password hash only while the stored
	// hash still equals previousHash. Returns false when it changed in the
	// meantime (or the account is gone), leaving the account untouched.
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, previousHash, newHash string, at time.Time) (bool, error)

	// RecordLoginFailure atomically increments the failure counter.
	// last_failed_login_at moves to at only while the previous count is
	// below threshold. Returns the stored count and timestamp.
	RecordLoginFailure(ctx context.Context, id ulid.ULID, at time.Time, threshold int) (int, *time.Time, error)

	// ResetLoginFailures clears the failure counter and timestamp.
	ResetLoginFailures(ctx context.Context, id ulid.ULID) error

	// SetResetTicket stores (or replaces) the outstanding reset ticket.
	SetResetTicket(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error
}

// Transactor runs a function inside a single store transaction.
// Repository calls made with the context passed to fn participate in it.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
