// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

// Package main is the entry point for the authcore CLI.
package main

import (
	"fmt"
	"io"
	"os"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, nil))
}

// run executes the CLI and returns the process exit code. Failures are
// printed to stderr as JSON carrying the error code.
func run(args []string, stdout, stderr io.Writer, deps *Deps) int {
	cmd := NewRootCmd(deps)
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		writeError(stderr, err)
		return 1
	}
	return 0
}
