// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quickdine/authcore/pkg/errutil"
)

var tracer = otel.Tracer("quickdine/authcore/auth")

// Use case names used in spans, logs and metrics.
const (
	UseCaseSignup                = "signup"
	UseCaseLogin                 = "login"
	UseCaseRefresh               = "refresh"
	UseCaseLogout                = "logout"
	UseCaseLogoutAll             = "logout_all"
	UseCaseAuthenticate          = "authenticate"
	UseCaseRequestPasswordReset  = "request_password_reset"
	UseCaseCompletePasswordReset = "complete_password_reset"
	UseCaseListSessions          = "list_sessions"
	UseCasePruneSessions         = "prune_sessions"
)

// ServiceConfig holds the tunables of the auth use cases.
type ServiceConfig struct {
	Tokens              TokenConfig
	Lockout             LockoutPolicy
	ResetTTL            time.Duration
	RotateRefreshTokens bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service composes the Password Hasher, Token Codec, Login Attempt Guard,
// Session Registry and Password Reset Flow into the use cases exposed to
// the transport layer.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	codec    *TokenCodec
	guard    *LoginGuard
	sessions *SessionRegistry
	resets   *ResetFlow
	cfg      ServiceConfig
	clock    Clock
	logger   *slog.Logger

	dummyHash func() (string, error)
}

// NewService creates a Service over the given store handles.
func NewService(accounts AccountRepository, sessions SessionRepository, tx Transactor, hasher PasswordHasher, cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
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

	s := &Service{
		accounts: accounts,
		hasher:   hasher,
		cfg:      cfg,
		clock:    SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.codec, err = NewTokenCodec(cfg.Tokens, s.clock); err != nil {
		return nil, err
	}
	if s.guard, err = NewLoginGuard(accounts, cfg.Lockout, s.clock); err != nil {
		return nil, err
	}
	s.sessions, err = NewSessionRegistry(sessions, accounts, tx, s.codec, s.clock,
		WithRotation(cfg.RotateRefreshTokens),
		WithSessionLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	if s.resets, err = NewResetFlow(accounts, sessions, tx, hasher, s.clock, cfg.ResetTTL); err != nil {
		return nil, err
	}
	s.dummyHash = sync.OnceValues(func() (string, error) {
		return hasher.Hash("quickdine-timing-equalizer-Aa1!")
	})
	return s, nil
}

// Codec returns the token codec.
func (s *Service) Codec() *TokenCodec { return s.codec }

// SignupRequest describes a new account.
type SignupRequest struct {
	Email    string
	Password string
	Name     string
	Role     Role
	TenantID *string
}

// AuthResult is returned by Signup and Login.
type AuthResult struct {
	Account          View      `json:"account"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RefreshResult is returned by Refresh. The refresh fields are set only when
// the presented token was rotated.
type RefreshResult struct {
	AccessToken      string     `json:"access_token"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshToken     string     `json:"refresh_token,omitempty"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
}

// Signup creates an account and opens its first session.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (res *AuthResult, err error) {
	ctx, end := s.begin(ctx, UseCaseSignup)
	defer func() { end(err) }()

	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}
	if !req.Role.Valid() {
		return nil, oops.Code(CodeInvalidRole).With("role", string(req.Role)).Errorf("unknown role %q", req.Role)
	}
	if err := ValidatePasswordStrength(req.Password); err != nil {
		return nil, err
	}

	_, err = s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, oops.Code(CodeDuplicateAccount).With("email", email).Errorf("an account with this email already exists")
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	account, err := NewAccount(email, req.Name, hash, req.Role, req.TenantID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create account").
			With("email", email).
			Wrap(err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.account_id", account.ID.String()))

	res, err = s.issue(ctx, account)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "account created",
		"account_id", account.ID.String(),
		"role", string(account.Role),
	)
	return res, nil
}

// Login authenticates by email and password and opens a session.
//
// Unknown emails and wrong passwords both fail with AUTH_INVALID_CREDENTIALS.
// A locked account fails with AUTH_ACCOUNT_LOCKED before the password is
// checked, even when it is correct.
func (s *Service) Login(ctx context.Context, email, password string) (res *AuthResult, err error) {
	ctx, end := s.begin(ctx, UseCaseLogin)
	defer func() { end(err) }()

	account, err := s.lookupForLogin(ctx, email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		s.burnVerify(password)
		return nil, invalidCredentials()
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.account_id", account.ID.String()))

	allowed, err := s.guard.MayAttempt(ctx, account)
	if err != nil {
		return nil, err
	}
	if !allowed {
		until, _ := s.guard.LockedUntil(account)
		s.logger.WarnContext(ctx, "login rejected for locked account",
			"account_id", account.ID.String(),
			"locked_until", until,
		)
		return nil, oops.Code(CodeAccountLocked).
			With("locked_until", until).
			Errorf("account is temporarily locked")
	}

	valid, verifyErr := s.hasher.Verify(password, account.PasswordHash)
	if verifyErr != nil {
		errutil.LogWarn(ctx, s.logger, "stored password hash unreadable", verifyErr)
		valid = false
	}
	if !valid {
		if err := s.guard.RecordFailure(ctx, account); err != nil {
			return nil, err
		}
		if account.FailedLoginCount == s.cfg.Lockout.MaxAttempts {
			lockoutsTotal.Inc()
			s.logger.WarnContext(ctx, "account locked after failed logins",
				"account_id", account.ID.String(),
				"failed_login_count", account.FailedLoginCount,
			)
		}
		return nil, invalidCredentials()
	}

	if err := s.guard.RecordSuccess(ctx, account); err != nil {
		return nil, err
	}
	s.upgradeHash(ctx, account, password)

	return s.issue(ctx, account)
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (res *RefreshResult, err error) {
	ctx, end := s.begin(ctx, UseCaseRefresh)
	defer func() { end(err) }()

	refreshed, err := s.sessions.ValidateAndRotate(ctx, refreshToken)
	if err != nil {
		return nil, s.collapseTokenError(ctx, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.account_id", refreshed.Account.ID.String()))

	res = &RefreshResult{
		AccessToken:     refreshed.Access.Token,
		AccessExpiresAt: refreshed.Access.ExpiresAt,
	}
	if refreshed.Refresh != nil {
		res.RefreshToken = refreshed.Refresh.Token
		res.RefreshExpiresAt = &refreshed.Refresh.ExpiresAt
	}
	return res, nil
}

// Logout revokes the session of a refresh token. Unknown tokens succeed.
func (s *Service) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, end := s.begin(ctx, UseCaseLogout)
	defer func() { end(err) }()

	return s.sessions.Revoke(ctx, refreshToken)
}

// LogoutAll revokes every session of an account.
func (s *Service) LogoutAll(ctx context.Context, accountID ulid.ULID) (n int64, err error) {
	ctx, end := s.begin(ctx, UseCaseLogoutAll)
	defer func() { end(err) }()

	n, err = s.sessions.RevokeAll(ctx, accountID)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "sessions revoked",
		"account_id", accountID.String(),
		"count", n,
	)
	return n, nil
}

// Authenticate verifies an access token for the transport layer.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (claims *AccessClaims, err error) {
	ctx, end := s.begin(ctx, UseCaseAuthenticate)
	defer func() { end(err) }()

	claims, err = s.codec.VerifyAccess(accessToken)
	if err != nil {
		return nil, s.collapseTokenError(ctx, err)
	}
	return claims, nil
}

// RequestPasswordReset issues a reset ticket and returns its plaintext token
// for out-of-band delivery. Unknown emails return an empty token and no
// error.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (token string, err error) {
	ctx, end := s.begin(ctx, UseCaseRequestPasswordReset)
	defer func() { end(err) }()

	account, err := s.lookupForReset(ctx, email)
	if err != nil {
		return "", err
	}
	if account == nil {
		s.logger.InfoContext(ctx, "password reset requested for unknown email")
		return "", nil
	}

	token, err = s.resets.Begin(ctx, account)
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "password reset issued", "account_id", account.ID.String())
	return token, nil
}

// CompletePasswordReset consumes a reset ticket and sets a new password.
// Every session of the account is revoked.
func (s *Service) CompletePasswordReset(ctx context.Context, email, token, newPassword string) (err error) {
	ctx, end := s.begin(ctx, UseCaseCompletePasswordReset)
	defer func() { end(err) }()

	account, err := s.lookupForReset(ctx, email)
	if err != nil {
		return err
	}
	if account == nil {
		return oops.Code(CodeResetTicketMissing).Errorf("no password reset is outstanding")
	}

	if err := s.resets.Complete(ctx, account, token, newPassword); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password reset completed", "account_id", account.ID.String())
	return nil
}

// ListSessions returns the sessions of an account, newest first.
func (s *Service) ListSessions(ctx context.Context, accountID ulid.ULID) (sessions []*Session, err error) {
	ctx, end := s.begin(ctx, UseCaseListSessions)
	defer func() { end(err) }()

	return s.sessions.List(ctx, accountID)
}

// PruneSessions deletes sessions that expired more than retention ago.
func (s *Service) PruneSessions(ctx context.Context, retention time.Duration) (n int64, err error) {
	ctx, end := s.begin(ctx, UseCasePruneSessions)
	defer func() { end(err) }()

	n, err = s.sessions.PruneExpired(ctx, retention)
	if err != nil {
		return 0, err
	}
	sessionsPrunedTotal.Add(float64(n))
	if n > 0 {
		s.logger.InfoContext(ctx, "expired sessions pruned", "count", n)
	}
	return n, nil
}

// begin starts the span of a use case. The returned func ends it and
// records the outcome.
func (s *Service) begin(ctx context.Context, useCase string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "auth."+useCase,
		trace.WithAttributes(attribute.String("auth.use_case", useCase)),
	)
	return ctx, func(err error) {
		observeUseCase(useCase, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorCode(err))
			if IsRetryable(err) {
				errutil.LogError(ctx, s.logger, useCase+" failed", err)
			}
		}
		span.End()
	}
}

// issue opens a session and mints an access token for account.
func (s *Service) issue(ctx context.Context, account *Account) (*AuthResult, error) {
	_, refresh, err := s.sessions.Open(ctx, account)
	if err != nil {
		return nil, err
	}
	access, err := s.codec.IssueAccess(account)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Account:          account.View(),
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// lookupForLogin returns nil without error when no account matches.
func (s *Service) lookupForLogin(ctx context.Context, email string) (*Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, nil //nolint:nilerr // malformed emails are unknown emails
	}
	account, err := s.accounts.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// lookupForReset returns nil without error when no account matches.
func (s *Service) lookupForReset(ctx context.Context, email string) (*Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, nil //nolint:nilerr // malformed emails are unknown emails
	}
	account, err := s.accounts.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("AUTH_RESET_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// burnVerify runs a password verification whose result is discarded, so a
// login for an unknown email costs as much as one for a known email.
func (s *Service) burnVerify(password string) {
	hash, err := s.dummyHash()
	if err != nil {
		return
	}
	_, _ = s.hasher.Verify(password, hash) //nolint:errcheck // result is discarded
}

// upgradeHash re-hashes the password when the stored hash is outdated.
// Failures are logged; the login still succeeds.
func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	if !s.hasher.NeedsUpgrade(account.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "password rehash failed", err)
		return
	}
	now := s.clock.Now()
	upgraded, err := s.accounts.UpgradePasswordHash(ctx, account.ID, account.PasswordHash, hash, now)
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "password rehash update failed", err)
		return
	}
	if !upgraded {
		s.logger.InfoContext(ctx, "password rehash skipped, hash changed concurrently",
			"account_id", account.ID.String())
		return
	}
	account.PasswordHash = hash
	account.UpdatedAt = now
}

// collapseTokenError maps detailed token failures to AUTH_TOKEN_INVALID.
// The detailed code is logged and kept in the "reason" context.
func (s *Service) collapseTokenError(ctx context.Context, err error) error {
	switch code := ErrorCode(err); code {
	case CodeTokenMalformed, CodeTokenSignatureInvalid, CodeTokenWrongKind, CodeTokenSubjectMismatch:
		s.logger.InfoContext(ctx, "token rejected", "reason", code, "error", err.Error())
		return oops.Code(CodeTokenInvalid).
			With("reason", code).
			Errorf("token is invalid")
	}
	return err
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}
