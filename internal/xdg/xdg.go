// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

// Package xdg provides XDG Base Directory paths for TaskHub.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName        = "taskhub"
	configFileName = "config.yaml"
)

// ConfigDir returns the XDG config directory for taskhub.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "resolve home directory")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the default config file path inside ConfigDir.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}
