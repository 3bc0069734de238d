// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDir_EnvVar(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/authcore", Dir())
}

func TestDir_Default(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/testuser")
	assert.Equal(t, "/home/testuser/.config/authcore", Dir())
}

func TestDefaultFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	assert.Empty(t, DefaultFile(), "missing file")

	dir := filepath.Join(base, "authcore")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DefaultFileName), 0o700))
	assert.Empty(t, DefaultFile(), "directories are not config files")

	require.NoError(t, os.Remove(filepath.Join(dir, DefaultFileName)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFileName), []byte("log_format: text\n"), 0o600))
	assert.Equal(t, filepath.Join(dir, DefaultFileName), DefaultFile())
}
