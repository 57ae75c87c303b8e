// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and the persisted user
// settings for rigrun-chat.
//
// Process configuration (API endpoint, storage, server, logging) lives in a
// TOML file, with JSON accepted as a fallback, sensible defaults, environment
// variable overrides, and validation.
//
// # Key Types
//
//   - Config: process configuration with api, storage, server, logging sections
//   - Settings: user preferences (theme, model parameters, display toggles)
//   - SettingsStore: thread-safe Settings persisted through a storage.Backend
//   - Watcher: reloads the config file on change
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_CHAT_*)
//   - ~/.rigrun-chat/config.toml
//   - ~/.rigrun-chat/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	dataDir, _ := cfg.ResolvedDataDir()
package config
