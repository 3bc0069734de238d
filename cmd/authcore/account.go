// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package main

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/quickdine/authcore/internal/auth"
)

// credentialFlags are shared by commands that take a password.
type credentialFlags struct {
	email         string
	password      string
	passwordStdin bool
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "email", "", "account email")
	cmd.Flags().StringVar(&f.password, "password", "", "account password")
	cmd.Flags().BoolVar(&f.passwordStdin, "password-stdin", false, "read the password from the first line of stdin")
	_ = cmd.MarkFlagRequired("email")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
}

func (f *credentialFlags) readPassword(cmd *cobra.Command) (string, error) {
	return readPassword(cmd.InOrStdin(), f.password, f.passwordStdin)
}

func (a *app) newSignupCmd() *cobra.Command {
	var (
		creds  credentialFlags
		name   string
		role   string
		tenant string
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and open its first session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := creds.readPassword(cmd)
			if err != nil {
				return err
			}
			req := auth.SignupRequest{
				Email:    creds.email,
				Password: password,
				Name:     name,
				Role:     auth.Role(role),
			}
			if tenant != "" {
				req.TenantID = &tenant
			}
			return a.runService(cmd, auth.UseCaseSignup, func(ctx context.Context, svc *auth.Service, _ *Backend) (any, error) {
				var res *auth.AuthResult
				err := a.retry(ctx, func(ctx context.Context) error {
					var err error
					res, err = svc.Signup(ctx, req)
					return err
				})
				return res, err
			})
		},
	}
	creds.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleCustomer), "role (tenant_admin, staff or customer)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant (restaurant) ID")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) newLoginCmd() *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with email and password",
		Long: `Authenticate with email and password and print a new access and refresh
token. After too many consecutive failures the account is locked for the
configured lockout duration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := creds.readPassword(cmd)
			if err != nil {
				return err
			}
			return a.runService(cmd, auth.UseCaseLogin, func(ctx context.Context, svc *auth.Service, _ *Backend) (any, error) {
				var res *auth.AuthResult
				err := a.retry(ctx, func(ctx context.Context) error {
					var err error
					res, err = svc.Login(ctx, creds.email, password)
					return err
				})
				return res, err
			})
		},
	}
	creds.register(cmd)
	return cmd
}

func (a *app) newRefreshCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange a refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runService(cmd, auth.UseCaseRefresh, func(ctx context.Context, svc *auth.Service, _ *Backend) (any, error) {
				var res *auth.RefreshResult
				err := a.retry(ctx, func(ctx context.Context) error {
					var err error
					res, err = svc.Refresh(ctx, token)
					return err
				})
				return res, err
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "refresh token")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

type logoutResult struct {
	Revoked int64 `json:"revoked"`
}

func (a *app) newLogoutCmd() *cobra.Command {
	var (
		token   string
		all     bool
		account string
	)
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke a session, or every session of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all {
				id, err := parseAccountID(account)
				if err != nil {
					return err
				}
				return a.runService(cmd, auth.UseCaseLogoutAll, func(ctx context.Context, svc *auth.Service, _ *Backend) (any, error) {
					var n int64
					err := a.retry(ctx, func(ctx context.Context) error {
						var err error
						n, err = svc.LogoutAll(ctx, id)
						return err
					})
					return logoutResult{Revoked: n}, err
				})
			}
			if token == "" {
				return oops.Code("INVALID_ARGUMENTS").Errorf("--token is required unless --all is set")
			}
			return a.runService(cmd, auth.UseCaseLogout, func(ctx context.Context, svc *auth.Service, _ *Backend) (any, error) {
				err := a.retry(ctx, func(ctx context.Context) error {
					return svc.Logout(ctx, token)
				})
				return map[string]string{"status": "logged_out"}, err
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "refresh token of the session to revoke")
	cmd.Flags().BoolVar(&all, "all", false, "revoke every session of --account")
	cmd.Flags().StringVar(&account, "account", "", "account ID (with --all)")
	cmd.MarkFlagsRequiredTogether("all", "account")
	cmd.MarkFlagsMutuallyExclusive("token", "all")
	return cmd
}

type whoamiResult struct {
	AccountID string    `json:"account_id"`
	Role      auth.Role `json:"role"`
	TenantID  string    `json:"tenant_id,omitempty"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *app) newWhoamiCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Verify an access token and print its claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runService(cmd, auth.UseCaseAuthenticate, func(ctx context.Context, svc *auth.Service, _ *Backend) (any, error) {
				claims, err := svc.Authenticate(ctx, token)
				if err != nil {
					return nil, err
				}
				res := whoamiResult{
					AccountID: claims.Subject,
					Role:      claims.Role,
					TenantID:  claims.TenantID,
					TokenID:   claims.ID,
				}
				if claims.ExpiresAt != nil {
					res.ExpiresAt = claims.ExpiresAt.UTC()
				}
				return res, nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "access token")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func parseAccountID(s string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ARGUMENTS").With("account", s).Wrapf(err, "invalid account ID")
	}
	return id, nil
}
