// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/quickdine/authcore/internal/auth"
	"github.com/quickdine/authcore/internal/auth/postgres"
	"github.com/quickdine/authcore/internal/config"
	"github.com/quickdine/authcore/internal/logging"
	"github.com/quickdine/authcore/internal/observability"
	"github.com/quickdine/authcore/internal/store"
)

// serviceName identifies the process in logs and Sentry releases.
const serviceName = "authcore"

// Backend is the persistence the auth commands run against.
type Backend struct {
	Accounts auth.AccountRepository
	Sessions auth.SessionRepository
	Tx       auth.Transactor
	Ready    observability.ReadinessChecker
	Close    func()
}

// Migrator is the subset of *store.Migrator used by the migrate commands.
type Migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// Deps contains injectable dependencies for the CLI.
// All fields with nil values will use their default implementations.
type Deps struct {
	// OpenBackend connects to the store.
	// Default: openPostgres
	OpenBackend func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error)

	// NewMigrator creates a migrator for a database URL.
	// Default: store.NewMigrator
	NewMigrator func(databaseURL string) (Migrator, error)

	// Clock is handed to the auth service.
	// Default: auth.SystemClock
	Clock auth.Clock

	// Retry bounds automatic retries of use cases.
	// Default: auth.DefaultRetryPolicy
	Retry *auth.RetryPolicy
}

func (d *Deps) withDefaults() {
	if d.OpenBackend == nil {
		d.OpenBackend = openPostgres
	}
	if d.NewMigrator == nil {
		d.NewMigrator = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if d.Clock == nil {
		d.Clock = auth.SystemClock{}
	}
	if d.Retry == nil {
		policy := auth.DefaultRetryPolicy()
		d.Retry = &policy
	}
}

// app is the state shared by every subcommand of one invocation.
type app struct {
	deps       Deps
	configFile string
	envFile    string
	cfg        *config.Config
	logger     *slog.Logger
	reporter   *observability.Reporter
}

// NewRootCmd creates the root command for the authcore CLI.
func NewRootCmd(deps *Deps) *cobra.Command {
	a := &app{}
	if deps != nil {
		a.deps = *deps
	}
	a.deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "QuickDine credential and session service",
		Long: `authcore manages QuickDine accounts: signup and login with lockout after
repeated failures, refresh-token sessions, password resets, and the
PostgreSQL schema behind them.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file path (YAML, default $XDG_CONFIG_HOME/authcore/config.yaml)")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", config.DefaultEnvFile, "dotenv file read before the environment")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(a.newSignupCmd())
	cmd.AddCommand(a.newLoginCmd())
	cmd.AddCommand(a.newRefreshCmd())
	cmd.AddCommand(a.newLogoutCmd())
	cmd.AddCommand(a.newWhoamiCmd())
	cmd.AddCommand(a.newResetCmd())
	cmd.AddCommand(a.newSessionsCmd())
	cmd.AddCommand(a.newPruneCmd())
	cmd.AddCommand(a.newMigrateCmd())
	cmd.AddCommand(a.newConfigCmd())

	return cmd
}

// setup loads configuration and installs logging and error reporting.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	file := a.configFile
	if file == "" {
		file = config.DefaultFile()
	}
	cfg, err := config.Load(config.Sources{
		EnvFile: a.envFile,
		File:    file,
		Flags:   cmd.Flags(),
	})
	if err != nil {
		return err
	}
	if err := cfg.ValidateRuntime(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = logging.Setup(serviceName, version, cfg.LogFormat, cmd.ErrOrStderr())
	slog.SetDefault(a.logger)

	a.reporter, err = observability.NewReporter(observability.SentryOptions{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     serviceName + "@" + version,
	})
	if err != nil {
		return err
	}
	return nil
}

// openPostgres connects the PostgreSQL repositories.
func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}
	pool, err := store.Connect(ctx, store.PoolConfig{URL: cfg.DatabaseURL, ConnectAttempts: 3}, logger)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Accounts: postgres.NewAccountRepository(pool),
		Sessions: postgres.NewSessionRepository(pool),
		Tx:       postgres.NewTransactor(pool),
		Ready:    observability.PingChecker(pool),
		Close:    pool.Close,
	}, nil
}

// serviceFunc is the body of a command that needs the auth service.
type serviceFunc func(ctx context.Context, svc *auth.Service, backend *Backend) (any, error)

// runService validates the configuration, opens the backend, builds the
// service and prints fn's result as JSON. Unexpected failures are reported
// to Sentry under operation.
func (a *app) runService(cmd *cobra.Command, operation string, fn serviceFunc) (err error) {
	ctx := cmd.Context()
	defer func() {
		if err != nil && reportable(err) {
			a.reporter.Capture(operation, err)
			a.reporter.Flush()
		}
	}()

	if err := a.cfg.Validate(); err != nil {
		return err
	}
	hasher, err := a.cfg.Hasher()
	if err != nil {
		return err
	}

	backend, err := a.deps.OpenBackend(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	if backend.Close != nil {
		defer backend.Close()
	}

	svc, err := auth.NewService(backend.Accounts, backend.Sessions, backend.Tx, hasher, a.cfg.ServiceConfig(),
		auth.WithClock(a.deps.Clock),
		auth.WithLogger(a.logger),
	)
	if err != nil {
		return oops.With("operation", "build auth service").Wrap(err)
	}

	result, err := fn(ctx, svc, backend)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return printJSON(cmd.OutOrStdout(), result)
}

// retry runs fn under the configured retry policy.
func (a *app) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return auth.Retry(ctx, *a.deps.Retry, fn)
}
