// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

// Package config loads authcore settings from a dotenv file, an optional YAML
// file, the environment and command-line flags, in that order of precedence
// (later sources win).
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/quickdine/authcore/internal/auth"
)

// CodeInvalid is the error code of every configuration failure.
const CodeInvalid = "CONFIG_INVALID"

// MinSecretLength is the shortest accepted token signing secret, in bytes.
const MinSecretLength = 32

// DefaultEnvFile is read when Sources.EnvFile is empty.
const DefaultEnvFile = ".env"

const redacted = "[redacted]"

// Config holds every recognized option. Keys are the lower-cased environment
// variable names; YAML files use the same keys.
type Config struct {
	AccessTokenSecret     string        `koanf:"access_token_secret"`
	RefreshTokenSecret    string        `koanf:"refresh_token_secret"`
	AccessTokenTTL        time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `koanf:"refresh_token_ttl"`
	ResetTokenTTL         time.Duration `koanf:"reset_token_ttl"`
	MaxLoginAttempts      int           `koanf:"max_login_attempts"`
	LockoutDuration       time.Duration `koanf:"lockout_duration"`
	PasswordHashCost      int           `koanf:"password_hash_cost"`
	PasswordHashAlgorithm string        `koanf:"password_hash_algorithm"`
	RotateRefreshTokens   bool          `koanf:"rotate_refresh_tokens"`
	DatabaseURL           string        `koanf:"database_url"`
	LogFormat             string        `koanf:"log_format"`
	MetricsAddr           string        `koanf:"metrics_addr"`
	SentryDSN             string        `koanf:"sentry_dsn"`
	SentryEnvironment     string        `koanf:"sentry_environment"`
}

// keys lists the recognized option names. Environment variables outside
// this set are ignored.
var keys = map[string]struct{}{
	"access_token_secret":     {},
	"refresh_token_secret":    {},
	"access_token_ttl":        {},
	"refresh_token_ttl":       {},
	"reset_token_ttl":         {},
	"max_login_attempts":      {},
	"lockout_duration":        {},
	"password_hash_cost":      {},
	"password_hash_algorithm": {},
	"rotate_refresh_tokens":   {},
	"database_url":            {},
	"log_format":              {},
	"metrics_addr":            {},
	"sentry_dsn":              {},
	"sentry_environment":      {},
}

// Defaults returns the configuration used when no source sets an option.
func Defaults() Config {
	return Config{
		AccessTokenTTL:        15 * time.Minute,
		RefreshTokenTTL:       7 * 24 * time.Hour,
		ResetTokenTTL:         time.Hour,
		MaxLoginAttempts:      auth.DefaultMaxLoginAttempts,
		LockoutDuration:       auth.DefaultLockoutDuration,
		PasswordHashCost:      auth.DefaultHashCost,
		PasswordHashAlgorithm: auth.AlgorithmBcrypt,
		LogFormat:             "json",
		MetricsAddr:           "127.0.0.1:9100",
	}
}

// RegisterFlags adds the non-secret options to flags, with Defaults as flag
// defaults. Flag names are the option keys with dashes.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Defaults()
	flags.Duration("access-token-ttl", d.AccessTokenTTL, "access token lifetime")
	flags.Duration("refresh-token-ttl", d.RefreshTokenTTL, "refresh token and session lifetime")
	flags.Duration("reset-token-ttl", d.ResetTokenTTL, "password reset ticket lifetime")
	flags.Int("max-login-attempts", d.MaxLoginAttempts, "consecutive failed logins that lock an account")
	flags.Duration("lockout-duration", d.LockoutDuration, "how long a locked account stays locked")
	flags.Int("password-hash-cost", d.PasswordHashCost, "bcrypt work factor")
	flags.String("password-hash-algorithm", d.PasswordHashAlgorithm, "password hash algorithm (bcrypt or argon2id)")
	flags.Bool("rotate-refresh-tokens", d.RotateRefreshTokens, "issue a new refresh token on every refresh")
	flags.String("database-url", d.DatabaseURL, "PostgreSQL connection URL")
	flags.String("log-format", d.LogFormat, "log format (json or text)")
	flags.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String("sentry-environment", d.SentryEnvironment, "environment reported to Sentry")
}

// Sources names where Load reads configuration from. Every field is optional.
type Sources struct {
	// EnvFile is a dotenv file merged into the process environment without
	// overriding variables that are already set. A missing file is ignored.
	EnvFile string
	// File is a YAML configuration file. It must exist when set.
	File string
	// Flags carries command-line overrides registered with RegisterFlags.
	Flags *pflag.FlagSet
}

// Load reads the configuration from src and validates it is well-formed.
// Whether the required secrets are present is checked by Validate.
func Load(src Sources) (*Config, error) {
	envFile := src.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.Code(CodeInvalid).With("env_file", envFile).Wrapf(err, "read env file")
	}

	k := koanf.New(".")

	if src.File != "" {
		if err := k.Load(file.Provider(src.File), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalid).With("file", src.File).Wrapf(err, "read config file")
		}
		for _, key := range k.Keys() {
			if _, ok := keys[key]; !ok {
				return nil, oops.Code(CodeInvalid).
					With("file", src.File).
					With("key", key).
					Errorf("unknown configuration key %q", key)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "read environment")
	}

	if src.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(src.Flags, ".", k, flagKey(src.Flags)), nil); err != nil {
			return nil, oops.Code(CodeInvalid).Wrapf(err, "read flags")
		}
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode configuration")
	}
	return &cfg, nil
}

// envKey maps recognized, non-empty environment variables to option keys.
func envKey(name, value string) (string, any) {
	key := strings.ToLower(name)
	if _, ok := keys[key]; !ok || value == "" {
		return "", nil
	}
	return key, value
}

func flagKey(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := keys[key]; !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

// Validate checks everything the auth service needs.
func (c *Config) Validate() error {
	if err := c.validateSecrets(); err != nil {
		return err
	}
	positive := []struct {
		key string
		val time.Duration
	}{
		{"access_token_ttl", c.AccessTokenTTL},
		{"refresh_token_ttl", c.RefreshTokenTTL},
		{"reset_token_ttl", c.ResetTokenTTL},
		{"lockout_duration", c.LockoutDuration},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return invalid(p.key, "%s must be positive, got %s", p.key, p.val)
		}
	}
	if c.MaxLoginAttempts < 1 {
		return invalid("max_login_attempts", "max_login_attempts must be at least 1, got %d", c.MaxLoginAttempts)
	}
	switch c.PasswordHashAlgorithm {
	case auth.AlgorithmBcrypt:
		if c.PasswordHashCost < auth.MinHashCost || c.PasswordHashCost > auth.MaxHashCost {
			return invalid("password_hash_cost", "password_hash_cost must be between %d and %d, got %d",
				auth.MinHashCost, auth.MaxHashCost, c.PasswordHashCost)
		}
	case auth.AlgorithmArgon2id:
	default:
		return invalid("password_hash_algorithm", "password_hash_algorithm must be %q or %q, got %q",
			auth.AlgorithmBcrypt, auth.AlgorithmArgon2id, c.PasswordHashAlgorithm)
	}
	return c.ValidateRuntime()
}

// ValidateRuntime checks the options every command shares. Commands that
// never sign tokens (migrate, config show) validate only these.
func (c *Config) ValidateRuntime() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid("log_format", "log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	return nil
}

// ValidateDatabase checks that a database URL is configured.
func (c *Config) ValidateDatabase() error {
	if c.DatabaseURL == "" {
		return invalid("database_url", "DATABASE_URL is required")
	}
	return nil
}

func (c *Config) validateSecrets() error {
	secrets := []struct {
		key string
		val string
	}{
		{"access_token_secret", c.AccessTokenSecret},
		{"refresh_token_secret", c.RefreshTokenSecret},
	}
	for _, s := range secrets {
		if s.val == "" {
			return invalid(s.key, "%s is required", strings.ToUpper(s.key))
		}
		if len(s.val) < MinSecretLength {
			return invalid(s.key, "%s must be at least %d bytes", strings.ToUpper(s.key), MinSecretLength)
		}
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return invalid("refresh_token_secret", "access and refresh token secrets must differ")
	}
	return nil
}

func invalid(key, format string, args ...any) error {
	return oops.Code(CodeInvalid).With("key", key).Errorf(format, args...)
}

// ServiceConfig builds the auth service settings.
func (c *Config) ServiceConfig() auth.ServiceConfig {
	return auth.ServiceConfig{
		Tokens: auth.TokenConfig{
			AccessSecret:  c.AccessTokenSecret,
			RefreshSecret: c.RefreshTokenSecret,
			AccessTTL:     c.AccessTokenTTL,
			RefreshTTL:    c.RefreshTokenTTL,
		},
		Lockout: auth.LockoutPolicy{
			MaxAttempts: c.MaxLoginAttempts,
			Duration:    c.LockoutDuration,
		},
		ResetTTL:            c.ResetTokenTTL,
		RotateRefreshTokens: c.RotateRefreshTokens,
	}
}

// Hasher builds the configured password hasher.
func (c *Config) Hasher() (*auth.Hasher, error) {
	return auth.NewHasher(c.PasswordHashAlgorithm, c.PasswordHashCost)
}

// Redacted returns a copy safe to print: secrets and the DSN are masked and
// the database password is hidden.
func (c *Config) Redacted() Config {
	out := *c
	for _, s := range []*string{&out.AccessTokenSecret, &out.RefreshTokenSecret, &out.SentryDSN} {
		if *s != "" {
			*s = redacted
		}
	}
	if out.DatabaseURL != "" {
		if u, err := url.Parse(out.DatabaseURL); err == nil {
			out.DatabaseURL = u.Redacted()
		} else {
			out.DatabaseURL = redacted
		}
	}
	return out
}

// MarshalYAML renders durations in their string form and keeps the option
// keys.
func (c Config) MarshalYAML() (any, error) {
	return struct {
		AccessTokenSecret     string `yaml:"access_token_secret"`
		RefreshTokenSecret    string `yaml:"refresh_token_secret"`
		AccessTokenTTL        string `yaml:"access_token_ttl"`
		RefreshTokenTTL       string `yaml:"refresh_token_ttl"`
		ResetTokenTTL         string `yaml:"reset_token_ttl"`
		MaxLoginAttempts      int    `yaml:"max_login_attempts"`
		LockoutDuration       string `yaml:"lockout_duration"`
		PasswordHashCost      int    `yaml:"password_hash_cost"`
		PasswordHashAlgorithm string `yaml:"password_hash_algorithm"`
		RotateRefreshTokens   bool   `yaml:"rotate_refresh_tokens"`
		DatabaseURL           string `yaml:"database_url"`
		LogFormat             string `yaml:"log_format"`
		MetricsAddr           string `yaml:"metrics_addr"`
		SentryDSN             string `yaml:"sentry_dsn"`
		SentryEnvironment     string `yaml:"sentry_environment"`
	}{
		AccessTokenSecret:     c.AccessTokenSecret,
		RefreshTokenSecret:    c.RefreshTokenSecret,
		AccessTokenTTL:        c.AccessTokenTTL.String(),
		RefreshTokenTTL:       c.RefreshTokenTTL.String(),
		ResetTokenTTL:         c.ResetTokenTTL.String(),
		MaxLoginAttempts:      c.MaxLoginAttempts,
		LockoutDuration:       c.LockoutDuration.String(),
		PasswordHashCost:      c.PasswordHashCost,
		PasswordHashAlgorithm: c.PasswordHashAlgorithm,
		RotateRefreshTokens:   c.RotateRefreshTokens,
		DatabaseURL:           c.DatabaseURL,
		LogFormat:             c.LogFormat,
		MetricsAddr:           c.MetricsAddr,
		SentryDSN:             c.SentryDSN,
		SentryEnvironment:     c.SentryEnvironment,
	}, nil
}
