// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/quickdine/authcore/internal/store"
)

// newMigrateCmd creates the migrate subcommand.
func (a *app) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back, inspect or repair the embedded PostgreSQL migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withMigrator(cmd, "up", func(m Migrator) error { return m.Up() })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withMigrator(cmd, "down", func(m Migrator) error { return m.Down() })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withMigrator(cmd, "", func(Migrator) error { return nil })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version and clear the dirty flag without running
any migration. Use after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return a.withMigrator(cmd, "force", func(m Migrator) error { return m.Force(version) })
		},
	})

	return cmd
}

type migrationView struct {
	Version uint   `json:"version"`
	Name    string `json:"name,omitempty"`
}

type migrateResult struct {
	Action  string          `json:"action,omitempty"`
	Version uint            `json:"version"`
	Dirty   bool            `json:"dirty"`
	Applied []migrationView `json:"applied"`
	Pending []migrationView `json:"pending"`
}

// withMigrator runs fn and prints the resulting schema status.
func (a *app) withMigrator(cmd *cobra.Command, action string, fn func(Migrator) error) (err error) {
	defer func() {
		if err != nil && reportable(err) {
			a.reporter.Capture("migrate", err)
			a.reporter.Flush()
		}
	}()
	if err := a.cfg.ValidateDatabase(); err != nil {
		return err
	}

	m, err := a.deps.NewMigrator(a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			a.logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := fn(m); err != nil {
		return oops.Code("MIGRATION_FAILED").With("action", action).Wrap(err)
	}
	if action != "" {
		a.logger.Info("migration completed", "action", action)
	}

	status, err := m.Status()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("action", "status").Wrap(err)
	}
	res := migrateResult{
		Action:  action,
		Version: status.Version,
		Dirty:   status.Dirty,
		Applied: namedMigrations(status.Applied),
		Pending: namedMigrations(status.Pending),
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func namedMigrations(versions []uint) []migrationView {
	views := make([]migrationView, 0, len(versions))
	for _, v := range versions {
		name, _ := store.MigrationName(v) //nolint:errcheck // the name is informational
		views = append(views, migrationView{Version: v, Name: name})
	}
	return views
}

// parseForceVersion parses the version argument of migrate force. Like
// fmt.Sscanf it stops at the first non-digit.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("invalid version %q: must be an integer", s)
	}
	return version, nil
}
