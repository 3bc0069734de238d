// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package config

import (
	"os"
	"path/filepath"
)

const appName = "authcore"

// DefaultFileName is the configuration file looked up in Dir.
const DefaultFileName = "config.yaml"

// Dir returns the XDG config directory for authcore.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultFile returns the path of config.yaml under Dir, or "" when no such
// regular file exists.
func DefaultFile() string {
	path := filepath.Join(Dir(), DefaultFileName)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return path
}
