// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quickdine/authcore/internal/auth"
)

func (a *app) newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Password reset tickets",
	}
	cmd.AddCommand(a.newResetRequestCmd())
	cmd.AddCommand(a.newResetCompleteCmd())
	return cmd
}

type resetRequestResult struct {
	// ResetToken is empty when no account has the email.
	ResetToken string `json:"reset_token"`
}

func (a *app) newResetRequestCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Issue a password reset ticket",
		Long: `Issue a password reset ticket and print its token for out-of-band
delivery. Issuing a new ticket replaces any outstanding one. An unknown email
succeeds with an empty token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runService(cmd, auth.UseCaseRequestPasswordReset, func(ctx context.Context, svc *auth.Service, _ *Backend) (any, error) {
				var token string
				err := a.retry(ctx, func(ctx context.Context) error {
					var err error
					token, err = svc.RequestPasswordReset(ctx, email)
					return err
				})
				return resetRequestResult{ResetToken: token}, err
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) newResetCompleteCmd() *cobra.Command {
	var (
		creds credentialFlags
		token string
	)
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Set a new password with a reset token",
		Long: `Set a new password with a reset token. The ticket is consumed and every
session of the account is revoked. A failed attempt is never retried
automatically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := creds.readPassword(cmd)
			if err != nil {
				return err
			}
			return a.runService(cmd, auth.UseCaseCompletePasswordReset, func(ctx context.Context, svc *auth.Service, _ *Backend) (any, error) {
				if err := svc.CompletePasswordReset(ctx, creds.email, token, password); err != nil {
					return nil, err
				}
				return map[string]string{"status": "password_reset"}, nil
			})
		},
	}
	creds.register(cmd)
	cmd.Flags().StringVar(&token, "token", "", "reset token")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
