// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := yaml.Marshal(a.cfg.Redacted())
			if err != nil {
				return oops.Code("OUTPUT_FAILED").With("operation", "encode config").Wrap(err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err //nolint:wrapcheck // write errors are already descriptive
		},
	})
	return cmd
}
