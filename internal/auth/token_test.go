// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdine/authcore/internal/auth"
	"github.com/quickdine/authcore/internal/auth/authtest"
	"github.com/quickdine/authcore/pkg/errutil"
)

const (
	testAccessSecret  = "access-secret-0123456789-abcdefghijklmnop"
	testRefreshSecret = "refresh-secret-0123456789-abcdefghijklmno"
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testTokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}
}

func newTestCodec(t *testing.T, clock auth.Clock) *auth.TokenCodec {
	t.Helper()
	codec, err := auth.NewTokenCodec(testTokenConfig(), clock)
	require.NoError(t, err)
	return codec
}

func testAccount() *auth.Account {
	tenant := "tenant-42"
	return &auth.Account{
		ID:       ulid.Make(),
		Email:    "a@b.com",
		Name:     "Ann",
		Role:     auth.RoleStaff,
		TenantID: &tenant,
	}
}

func TestNewTokenCodec_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*auth.TokenConfig)
	}{
		{name: "missing access secret", mutate: func(c *auth.TokenConfig) { c.AccessSecret = "" }},
		{name: "missing refresh secret", mutate: func(c *auth.TokenConfig) { c.RefreshSecret = "" }},
		{name: "shared secret", mutate: func(c *auth.TokenConfig) { c.RefreshSecret = c.AccessSecret }},
		{name: "zero access ttl", mutate: func(c *auth.TokenConfig) { c.AccessTTL = 0 }},
		{name: "negative refresh ttl", mutate: func(c *auth.TokenConfig) { c.RefreshTTL = -time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testTokenConfig()
			tt.mutate(&cfg)
			codec, err := auth.NewTokenCodec(cfg, nil)
			errutil.AssertErrorCode(t, err, "TOKEN_CONFIG_INVALID")
			assert.Nil(t, codec)
		})
	}
}

func TestTokenCodec_IssueAndVerifyAccess(t *testing.T) {
	clock := authtest.NewFakeClock(testEpoch)
	codec := newTestCodec(t, clock)
	account := testAccount()

	issued, err := codec.IssueAccess(account)
	require.NoError(t, err)
	assert.Equal(t, testEpoch, issued.IssuedAt)
	assert.Equal(t, testEpoch.Add(15*time.Minute), issued.ExpiresAt)

	claims, err := codec.Verify(issued.Token, auth.TokenKindAccess)
	require.NoError(t, err)

	access, ok := claims.(*auth.AccessClaims)
	require.True(t, ok, "expected *AccessClaims, got %T", claims)
	assert.Equal(t, auth.TokenKindAccess, access.Kind())
	assert.Equal(t, auth.RoleStaff, access.Role)
	assert.Equal(t, "tenant-42", access.TenantID)
	assert.NotEmpty(t, access.ID)

	id, err := access.AccountID()
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)
}

func TestTokenCodec_IssueAndVerifyRefresh(t *testing.T) {
	clock := authtest.NewFakeClock(testEpoch)
	codec := newTestCodec(t, clock)
	account := testAccount()

	issued, err := codec.IssueRefresh(account)
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(7*24*time.Hour), issued.ExpiresAt)

	refresh, err := codec.VerifyRefresh(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.TokenKindRefresh, refresh.Kind())
	assert.Equal(t, account.ID.String(), refresh.Subject)
}

func TestTokenCodec_TokensAreUniqueWithinASecond(t *testing.T) {
	codec := newTestCodec(t, authtest.NewFakeClock(testEpoch))
	account := testAccount()

	first, err := codec.IssueRefresh(account)
	require.NoError(t, err)
	second, err := codec.IssueRefresh(account)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestTokenCodec_WrongKind(t *testing.T) {
	codec := newTestCodec(t, authtest.NewFakeClock(testEpoch))
	account := testAccount()

	access, err := codec.IssueAccess(account)
	require.NoError(t, err)
	refresh, err := codec.IssueRefresh(account)
	require.NoError(t, err)

	t.Run("refresh token presented as access", func(t *testing.T) {
		_, err := codec.Verify(refresh.Token, auth.TokenKindAccess)
		errutil.AssertErrorCode(t, err, auth.CodeTokenWrongKind)
	})

	t.Run("access token presented as refresh", func(t *testing.T) {
		_, err := codec.VerifyRefresh(access.Token)
		errutil.AssertErrorCode(t, err, auth.CodeTokenWrongKind)
	})
}

func TestTokenCodec_Expired(t *testing.T) {
	clock := authtest.NewFakeClock(testEpoch)
	codec := newTestCodec(t, clock)

	issued, err := codec.IssueAccess(testAccount())
	require.NoError(t, err)

	clock.Advance(15*time.Minute - time.Second)
	_, err = codec.VerifyAccess(issued.Token)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = codec.VerifyAccess(issued.Token)
	errutil.AssertErrorCode(t, err, auth.CodeTokenExpired)
}

func TestTokenCodec_SignatureInvalid(t *testing.T) {
	clock := authtest.NewFakeClock(testEpoch)
	codec := newTestCodec(t, clock)
	account := testAccount()

	t.Run("signed with another secret", func(t *testing.T) {
		cfg := testTokenConfig()
		cfg.AccessSecret = "some-other-secret-0123456789-abcdefgh"
		other, err := auth.NewTokenCodec(cfg, clock)
		require.NoError(t, err)

		forged, err := other.IssueAccess(account)
		require.NoError(t, err)

		_, err = codec.VerifyAccess(forged.Token)
		errutil.AssertErrorCode(t, err, auth.CodeTokenSignatureInvalid)
	})

	t.Run("tampered payload", func(t *testing.T) {
		issued, err := codec.IssueAccess(account)
		require.NoError(t, err)

		admin := *account
		admin.Role = auth.RoleTenantAdmin
		elevated, err := codec.IssueAccess(&admin)
		require.NoError(t, err)

		// Header and signature of the first token around the payload of the second.
		parts := strings.Split(issued.Token, ".")
		elevatedParts := strings.Split(elevated.Token, ".")
		tampered := parts[0] + "." + elevatedParts[1] + "." + parts[2]

		_, err = codec.VerifyAccess(tampered)
		errutil.AssertErrorCode(t, err, auth.CodeTokenSignatureInvalid)
	})

	t.Run("unsigned token", func(t *testing.T) {
		claims := &auth.AccessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   account.ID.String(),
				ExpiresAt: jwt.NewNumericDate(testEpoch.Add(time.Hour)),
			},
			TokenKind: auth.TokenKindAccess,
			Role:      auth.RoleTenantAdmin,
		}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = codec.VerifyAccess(unsigned)
		errutil.AssertErrorCode(t, err, auth.CodeTokenSignatureInvalid)
	})
}

func TestTokenCodec_Malformed(t *testing.T) {
	codec := newTestCodec(t, authtest.NewFakeClock(testEpoch))

	for _, token := range []string{"", "not-a-jwt", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.!!!.sig"} {
		_, err := codec.Verify(token, auth.TokenKindAccess)
		errutil.AssertErrorCode(t, err, auth.CodeTokenMalformed)
	}
}

func TestTokenCodec_MalformedSubject(t *testing.T) {
	codec := newTestCodec(t, authtest.NewFakeClock(testEpoch))

	claims := &auth.RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-ulid",
			ExpiresAt: jwt.NewNumericDate(testEpoch.Add(time.Hour)),
		},
		TokenKind: auth.TokenKindRefresh,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testRefreshSecret))
	require.NoError(t, err)

	_, err = codec.VerifyRefresh(signed)
	errutil.AssertErrorCode(t, err, auth.CodeTokenMalformed)
}

func TestTokenCodec_MissingExpiry(t *testing.T) {
	codec := newTestCodec(t, authtest.NewFakeClock(testEpoch))

	claims := &auth.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: ulid.Make().String()},
		TokenKind:        auth.TokenKindAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAccessSecret))
	require.NoError(t, err)

	_, err = codec.VerifyAccess(signed)
	errutil.AssertErrorCode(t, err, auth.CodeTokenMalformed)
}
