// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// SearchPaths returns the configuration file paths to try, in priority
// order. customPath, when non-empty, takes precedence over the standard
// locations.
func SearchPaths(customPath string) []string {
	var paths []string

	if customPath != "" {
		paths = append(paths, expandHome(customPath))
	}

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "config", "models.toml"))
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "aichat", "models.toml"))
	}

	return paths
}

// Load reads and validates configuration. When customPath is empty the
// standard search paths are tried in order; the first existing file wins.
func Load(customPath string) (*Config, error) {
	paths := SearchPaths(customPath)

	var configFile string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			configFile = p
			break
		}
	}
	if configFile == "" {
		return nil, fmt.Errorf("no configuration file found; searched:\n  %s", strings.Join(paths, "\n  "))
	}

	return LoadFile(configFile)
}

// LoadFile reads and validates configuration from a specific TOML file.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML from %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
