// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/quickdine/authcore/internal/auth"
	"github.com/quickdine/authcore/pkg/errutil"
)

const (
	testAccessSecret  = "access-secret-0123456789-abcdefghijklmnop"
	testRefreshSecret = "refresh-secret-0123456789-abcdefghijklmno"
)

// isolate blanks every recognized variable for the duration of the test and
// points Load at a dotenv file that does not exist.
func isolate(t *testing.T) Sources {
	t.Helper()
	for key := range keys {
		t.Setenv(strings.ToUpper(key), "")
	}
	return Sources{EnvFile: filepath.Join(t.TempDir(), "missing.env")}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.AccessTokenSecret = testAccessSecret
	cfg.RefreshTokenSecret = testRefreshSecret
	return &cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(isolate(t))
	require.NoError(t, err)

	assert.Equal(t, Defaults(), *cfg)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 168*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, time.Hour, cfg.ResetTokenTTL)
	assert.Equal(t, 5, cfg.MaxLoginAttempts)
	assert.Equal(t, 15*time.Minute, cfg.LockoutDuration)
	assert.Equal(t, 12, cfg.PasswordHashCost)
	assert.Equal(t, "bcrypt", cfg.PasswordHashAlgorithm)
	assert.False(t, cfg.RotateRefreshTokens)
}

func TestLoad_Environment(t *testing.T) {
	src := isolate(t)
	t.Setenv("ACCESS_TOKEN_SECRET", testAccessSecret)
	t.Setenv("REFRESH_TOKEN_SECRET", testRefreshSecret)
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("ROTATE_REFRESH_TOKENS", "true")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/quickdine")
	t.Setenv("UNRELATED_SETTING", "ignored")

	cfg, err := Load(src)
	require.NoError(t, err)

	assert.Equal(t, testAccessSecret, cfg.AccessTokenSecret)
	assert.Equal(t, testRefreshSecret, cfg.RefreshTokenSecret)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 3, cfg.MaxLoginAttempts)
	assert.True(t, cfg.RotateRefreshTokens)
	assert.Equal(t, "postgres://u:p@localhost/quickdine", cfg.DatabaseURL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Precedence(t *testing.T) {
	src := isolate(t)
	src.File = writeFile(t, "authcore.yaml", `
access_token_ttl: 10m
max_login_attempts: 7
lockout_duration: 30m
log_format: text
`)
	t.Setenv("MAX_LOGIN_ATTEMPTS", "8")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--lockout-duration=45m"}))
	src.Flags = flags

	cfg, err := Load(src)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.AccessTokenTTL, "file over default")
	assert.Equal(t, 8, cfg.MaxLoginAttempts, "environment over file")
	assert.Equal(t, 45*time.Minute, cfg.LockoutDuration, "flag over file")
	assert.Equal(t, "text", cfg.LogFormat, "unchanged flag default does not override file")
	assert.Equal(t, 12, cfg.PasswordHashCost, "flag default fills unset option")
}

func TestLoad_EnvFile(t *testing.T) {
	src := isolate(t)
	// godotenv only sets variables that are absent from the environment.
	t.Setenv("RESET_TOKEN_TTL", "")
	require.NoError(t, os.Unsetenv("RESET_TOKEN_TTL"))
	src.EnvFile = writeFile(t, ".env", "RESET_TOKEN_TTL=2h\n")

	cfg, err := Load(src)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.ResetTokenTTL)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		src := isolate(t)
		src.File = filepath.Join(t.TempDir(), "nope.yaml")
		_, err := Load(src)
		errutil.AssertErrorCode(t, err, CodeInvalid)
	})

	t.Run("unknown key in file", func(t *testing.T) {
		src := isolate(t)
		src.File = writeFile(t, "authcore.yaml", "lockout_minutes: 15\n")
		_, err := Load(src)
		errutil.AssertErrorCode(t, err, CodeInvalid)
		errutil.AssertErrorContext(t, err, "key", "lockout_minutes")
	})

	t.Run("undecodable value", func(t *testing.T) {
		src := isolate(t)
		t.Setenv("MAX_LOGIN_ATTEMPTS", "five")
		_, err := Load(src)
		errutil.AssertErrorCode(t, err, CodeInvalid)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{name: "missing access secret", mutate: func(c *Config) { c.AccessTokenSecret = "" }, wantKey: "access_token_secret"},
		{name: "missing refresh secret", mutate: func(c *Config) { c.RefreshTokenSecret = "" }, wantKey: "refresh_token_secret"},
		{name: "short secret", mutate: func(c *Config) { c.AccessTokenSecret = "short" }, wantKey: "access_token_secret"},
		{name: "shared secret", mutate: func(c *Config) { c.RefreshTokenSecret = c.AccessTokenSecret }, wantKey: "refresh_token_secret"},
		{name: "zero access ttl", mutate: func(c *Config) { c.AccessTokenTTL = 0 }, wantKey: "access_token_ttl"},
		{name: "negative reset ttl", mutate: func(c *Config) { c.ResetTokenTTL = -time.Minute }, wantKey: "reset_token_ttl"},
		{name: "zero lockout", mutate: func(c *Config) { c.LockoutDuration = 0 }, wantKey: "lockout_duration"},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxLoginAttempts = 0 }, wantKey: "max_login_attempts"},
		{name: "low cost", mutate: func(c *Config) { c.PasswordHashCost = 4 }, wantKey: "password_hash_cost"},
		{name: "unknown algorithm", mutate: func(c *Config) { c.PasswordHashAlgorithm = "md5" }, wantKey: "password_hash_algorithm"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantKey: "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			errutil.AssertErrorCode(t, err, CodeInvalid)
			errutil.AssertErrorContext(t, err, "key", tt.wantKey)
		})
	}

	t.Run("argon2id ignores cost", func(t *testing.T) {
		cfg := validConfig()
		cfg.PasswordHashAlgorithm = auth.AlgorithmArgon2id
		cfg.PasswordHashCost = 0
		require.NoError(t, cfg.Validate())
	})
}

func TestConfig_ValidateDatabase(t *testing.T) {
	cfg := validConfig()
	errutil.AssertErrorCode(t, cfg.ValidateDatabase(), CodeInvalid)

	cfg.DatabaseURL = "postgres://localhost/quickdine"
	require.NoError(t, cfg.ValidateDatabase())
}

func TestConfig_ServiceConfig(t *testing.T) {
	cfg := validConfig()
	cfg.RotateRefreshTokens = true

	sc := cfg.ServiceConfig()
	assert.Equal(t, testAccessSecret, sc.Tokens.AccessSecret)
	assert.Equal(t, testRefreshSecret, sc.Tokens.RefreshSecret)
	assert.Equal(t, cfg.AccessTokenTTL, sc.Tokens.AccessTTL)
	assert.Equal(t, cfg.RefreshTokenTTL, sc.Tokens.RefreshTTL)
	assert.Equal(t, auth.DefaultLockoutPolicy(), sc.Lockout)
	assert.Equal(t, time.Hour, sc.ResetTTL)
	assert.True(t, sc.RotateRefreshTokens)

	hasher, err := cfg.Hasher()
	require.NoError(t, err)
	assert.NotNil(t, hasher)
}

func TestConfig_Redacted(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = "postgres://quickdine:hunter2@db:5432/quickdine"
	cfg.SentryDSN = "https://key@sentry.example.com/1"

	r := cfg.Redacted()
	assert.Equal(t, redacted, r.AccessTokenSecret)
	assert.Equal(t, redacted, r.RefreshTokenSecret)
	assert.Equal(t, redacted, r.SentryDSN)
	assert.NotContains(t, r.DatabaseURL, "hunter2")
	assert.Contains(t, r.DatabaseURL, "db:5432")
	assert.Equal(t, testAccessSecret, cfg.AccessTokenSecret, "original untouched")

	out, err := yaml.Marshal(r)
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "access_token_ttl: 15m0s")
	assert.Contains(t, text, "max_login_attempts: 5")
	assert.NotContains(t, text, testAccessSecret)
	assert.NotContains(t, text, "hunter2")
}
