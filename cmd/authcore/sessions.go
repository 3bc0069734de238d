// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/quickdine/authcore/internal/auth"
	"github.com/quickdine/authcore/internal/observability"
	"github.com/quickdine/authcore/pkg/errutil"
)

// Default prune settings.
const (
	defaultPruneRetention = 24 * time.Hour
	shutdownTimeout       = 5 * time.Second
)

func (a *app) newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions",
	}
	cmd.AddCommand(a.newSessionsListCmd())
	return cmd
}

type sessionView struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Valid      bool      `json:"valid"`
	Expired    bool      `json:"expired"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (a *app) newSessionsListCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the sessions of an account, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := parseAccountID(account)
			if err != nil {
				return err
			}
			return a.runService(cmd, auth.UseCaseListSessions, func(ctx context.Context, svc *auth.Service, _ *Backend) (any, error) {
				var sessions []*auth.Session
				err := a.retry(ctx, func(ctx context.Context) error {
					var err error
					sessions, err = svc.ListSessions(ctx, id)
					return err
				})
				if err != nil {
					return nil, err
				}
				now := a.deps.Clock.Now()
				views := make([]sessionView, 0, len(sessions))
				for _, s := range sessions {
					views = append(views, sessionView{
						ID:         s.ID.String(),
						AccountID:  s.AccountID.String(),
						Valid:      s.IsValid,
						Expired:    !now.Before(s.ExpiresAt),
						CreatedAt:  s.CreatedAt,
						LastUsedAt: s.LastUsedAt,
						ExpiresAt:  s.ExpiresAt,
					})
				}
				return views, nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account ID")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

type pruneResult struct {
	Deleted int64 `json:"deleted"`
}

func (a *app) newPruneCmd() *cobra.Command {
	var retention, interval time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired sessions",
		Long: `Delete sessions that expired more than --retention ago. With --interval the
command keeps pruning on that schedule, serving /metrics and health probes on
the metrics address, until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if retention < 0 {
				return oops.Code("INVALID_ARGUMENTS").With("retention", retention.String()).Errorf("--retention must not be negative")
			}
			return a.runService(cmd, auth.UseCasePruneSessions, func(ctx context.Context, svc *auth.Service, backend *Backend) (any, error) {
				if interval <= 0 {
					var n int64
					err := a.retry(ctx, func(ctx context.Context) error {
						var err error
						n, err = svc.PruneSessions(ctx, retention)
						return err
					})
					return pruneResult{Deleted: n}, err
				}
				return nil, a.pruneLoop(ctx, svc, backend, retention, interval)
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", defaultPruneRetention, "keep expired sessions this long")
	cmd.Flags().DurationVar(&interval, "interval", 0, "prune repeatedly at this interval (0 = once)")
	return cmd
}

// pruneLoop prunes every interval until ctx is cancelled or the process is
// signalled. Failed passes are logged and the loop carries on.
func (a *app) pruneLoop(ctx context.Context, svc *auth.Service, backend *Backend, retention, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr <-chan error
	if a.cfg.MetricsAddr != "" {
		srv := observability.NewServer(a.cfg.MetricsAddr, backend.Ready)
		if err := auth.RegisterMetrics(srv.Registry()); err != nil {
			return oops.Code("METRICS_INIT_FAILED").Wrap(err)
		}
		errCh, err := srv.Start()
		if err != nil {
			return oops.Code("METRICS_INIT_FAILED").With("addr", a.cfg.MetricsAddr).Wrap(err)
		}
		serveErr = errCh
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				errutil.LogError(shutdownCtx, a.logger, "observability server shutdown failed", err)
			}
		}()
	}

	a.logger.InfoContext(ctx, "session pruning started",
		"interval", interval.String(),
		"retention", retention.String(),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := svc.PruneSessions(ctx, retention); err != nil && ctx.Err() == nil {
			errutil.LogError(ctx, a.logger, "session pruning failed", err)
			if reportable(err) {
				a.reporter.Capture(auth.UseCasePruneSessions, err)
			}
		}

		select {
		case <-ctx.Done():
			a.logger.Info("session pruning stopped")
			return nil
		case err, ok := <-serveErr:
			if ok && err != nil {
				return oops.Code("METRICS_SERVER_FAILED").Wrap(err)
			}
			serveErr = nil
		case <-ticker.C:
		}
	}
}
