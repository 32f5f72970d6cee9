// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation.
//
// Configuration is a single TOML file describing the application, the
// configured models (one table per model key, each tagged with a provider
// type), and the configured agents (system instructions plus optional
// knowledge sources).
//
// Configuration file locations (in order of precedence):
//   - custom path passed by the caller
//   - ./config/models.toml
//   - ~/.config/aichat/models.toml
//
// The package also provides a fsnotify-based Watcher for reloading the
// configuration file when it changes on disk.
package config
