// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

// Token kinds.
const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims is the verified payload of a token. It is implemented only by
// *AccessClaims and *RefreshClaims; callers type-switch on the result of
// TokenCodec.Verify.
type Claims interface {
	jwt.Claims
	Kind() TokenKind
	AccountID() (ulid.ULID, error)
	sealed()
}

// AccessClaims authorize a single request window.
type AccessClaims struct {
	jwt.RegisteredClaims
	TokenKind TokenKind `json:"kind"`
	Role      Role      `json:"role"`
	TenantID  string    `json:"tenant_id,omitempty"`
}

// Kind returns TokenKindAccess.
func (c *AccessClaims) Kind() TokenKind { return TokenKindAccess }

// AccountID parses the subject.
func (c *AccessClaims) AccountID() (ulid.ULID, error) { return parseSubject(c.Subject) }

func (c *AccessClaims) sealed() {}

// RefreshClaims identify a session.
type RefreshClaims struct {
	jwt.RegisteredClaims
	TokenKind TokenKind `json:"kind"`
}

// Kind returns TokenKindRefresh.
func (c *RefreshClaims) Kind() TokenKind { return TokenKindRefresh }

// AccountID parses the subject.
func (c *RefreshClaims) AccountID() (ulid.ULID, error) { return parseSubject(c.Subject) }

func (c *RefreshClaims) sealed() {}

func parseSubject(subject string) (ulid.ULID, error) {
	id, err := ulid.Parse(subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeTokenMalformed).With("subject", subject).Wrap(err)
	}
	return id, nil
}

// IssuedToken is a signed token together with its validity window.
type IssuedToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenConfig holds the signing contexts of both token kinds.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenCodec signs and verifies access and refresh tokens. Each kind has its
// own secret and lifetime.
type TokenCodec struct {
	cfg   TokenConfig
	clock Clock
}

// NewTokenCodec creates a TokenCodec.
func NewTokenCodec(cfg TokenConfig, clock Clock) (*TokenCodec, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("token secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("access_ttl", cfg.AccessTTL).
			With("refresh_ttl", cfg.RefreshTTL).
			Errorf("token lifetimes must be positive")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &TokenCodec{cfg: cfg, clock: clock}, nil
}

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

// IssueAccess mints an access token for account.
func (c *TokenCodec) IssueAccess(account *Account) (IssuedToken, error) {
	iat, exp := c.window(c.cfg.AccessTTL)
	claims := &AccessClaims{
		RegisteredClaims: c.registered(account, iat, exp),
		TokenKind:        TokenKindAccess,
		Role:             account.Role,
	}
	if account.TenantID != nil {
		claims.TenantID = *account.TenantID
	}
	return c.sign(claims, c.cfg.AccessSecret, iat, exp)
}

// IssueRefresh mints a refresh token for account.
func (c *TokenCodec) IssueRefresh(account *Account) (IssuedToken, error) {
	iat, exp := c.window(c.cfg.RefreshTTL)
	claims := &RefreshClaims{
		RegisteredClaims: c.registered(account, iat, exp),
		TokenKind:        TokenKindRefresh,
	}
	return c.sign(claims, c.cfg.RefreshSecret, iat, exp)
}

// Verify checks token against the signing context of expected.
//
// Failures carry one of the codes TOKEN_MALFORMED, TOKEN_WRONG_KIND,
// TOKEN_SIGNATURE_INVALID or AUTH_TOKEN_EXPIRED, checked in that order.
func (c *TokenCodec) Verify(token string, expected TokenKind) (Claims, error) {
	if token == "" {
		return nil, oops.Code(CodeTokenMalformed).Errorf("token is empty")
	}

	var probe struct {
		jwt.RegisteredClaims
		TokenKind TokenKind `json:"kind"`
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &probe); err != nil {
		return nil, oops.Code(CodeTokenMalformed).Wrap(err)
	}
	if probe.TokenKind != expected {
		return nil, oops.Code(CodeTokenWrongKind).
			With("expected", expected).
			With("actual", probe.TokenKind).
			Errorf("expected %s token", expected)
	}

	var (
		claims Claims
		secret string
	)
	switch expected {
	case TokenKindAccess:
		claims, secret = &AccessClaims{}, c.cfg.AccessSecret
	case TokenKindRefresh:
		claims, secret = &RefreshClaims{}, c.cfg.RefreshSecret
	default:
		return nil, oops.Code(CodeTokenWrongKind).With("expected", expected).Errorf("unknown token kind")
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, oops.Code(CodeTokenSignatureInvalid).Wrap(err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, oops.Code(CodeTokenExpired).With("kind", expected).Wrap(err)
	default:
		return nil, oops.Code(CodeTokenMalformed).Wrap(err)
	}

	if _, err := claims.AccountID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyAccess verifies an access token.
func (c *TokenCodec) VerifyAccess(token string) (*AccessClaims, error) {
	claims, err := c.Verify(token, TokenKindAccess)
	if err != nil {
		return nil, err
	}
	access, ok := claims.(*AccessClaims)
	if !ok {
		return nil, oops.Code(CodeTokenWrongKind).Errorf("expected access claims")
	}
	return access, nil
}

// VerifyRefresh verifies a refresh token.
func (c *TokenCodec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims, err := c.Verify(token, TokenKindRefresh)
	if err != nil {
		return nil, err
	}
	refresh, ok := claims.(*RefreshClaims)
	if !ok {
		return nil, oops.Code(CodeTokenWrongKind).Errorf("expected refresh claims")
	}
	return refresh, nil
}

// window returns issue and expiry times at the precision tokens encode.
func (c *TokenCodec) window(ttl time.Duration) (time.Time, time.Time) {
	iat := c.clock.Now().Truncate(jwt.TimePrecision)
	return iat, iat.Add(ttl)
}

func (c *TokenCodec) registered(account *Account, iat, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   account.ID.String(),
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
}

func (c *TokenCodec) sign(claims jwt.Claims, secret string, iat, exp time.Time) (IssuedToken, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return IssuedToken{}, oops.Code(CodeTokenSigningFailed).Wrap(err)
	}
	return IssuedToken{Token: signed, IssuedAt: iat, ExpiresAt: exp}, nil
}
