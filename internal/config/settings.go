// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// Theme values.
const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

// KnownModels lists the models offered by the settings surfaces. Other
// identifiers are accepted as typed.
var KnownModels = []string{"gpt-3.5-turbo", "gpt-4", "gpt-4-turbo"}

// Settings are the user preferences persisted under storage.KeySettings.
type Settings struct {
	Theme              string  `json:"theme"`
	ShowTimestamps     bool    `json:"showTimestamps"`
	AutoScroll         bool    `json:"autoScroll"`
	DefaultModel       string  `json:"defaultModel"`
	DefaultTemperature float64 `json:"defaultTemperature"`
	DefaultMaxTokens   int     `json:"defaultMaxTokens"`
}

// DefaultSettings returns the first-run preferences.
func DefaultSettings() Settings {
	return Settings{
		Theme:              ThemeSystem,
		ShowTimestamps:     false,
		AutoScroll:         true,
		DefaultModel:       cloud.DefaultModel,
		DefaultTemperature: cloud.DefaultTemperature,
		DefaultMaxTokens:   cloud.DefaultMaxTokens,
	}
}

// Validate checks ranges and enumerations.
func (s Settings) Validate() error {
	var errs ValidateErrors

	switch s.Theme {
	case ThemeSystem, ThemeLight, ThemeDark:
	default:
		errs = append(errs, ValidationError{
			Field:   "theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: system, light, dark", s.Theme),
		})
	}
	if strings.TrimSpace(s.DefaultModel) == "" {
		errs = append(errs, ValidationError{Field: "defaultModel", Message: "must not be empty"})
	}
	if s.DefaultTemperature < 0 || s.DefaultTemperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "defaultTemperature",
			Message: fmt.Sprintf("must be between 0 and 2, got %g", s.DefaultTemperature),
		})
	}
	if s.DefaultMaxTokens <= 0 {
		errs = append(errs, ValidationError{
			Field:   "defaultMaxTokens",
			Message: fmt.Sprintf("must be positive, got %d", s.DefaultMaxTokens),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ModelParams converts the model preferences for the transport.
func (s Settings) ModelParams() cloud.Params {
	return cloud.Params{
		Model:       s.DefaultModel,
		Temperature: s.DefaultTemperature,
		MaxTokens:   s.DefaultMaxTokens,
	}
}

// SettingKeys returns the names accepted by Settings.Set, sorted.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingSetters))
	for k := range settingSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// settingSetters parse one textual value into a field.
var settingSetters = map[string]func(*Settings, string) error{
	"theme": func(s *Settings, v string) error {
		s.Theme = strings.ToLower(v)
		return nil
	},
	"showTimestamps": func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		s.ShowTimestamps = b
		return err
	},
	"autoScroll": func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		s.AutoScroll = b
		return err
	},
	"defaultModel": func(s *Settings, v string) error {
		s.DefaultModel = v
		return nil
	},
	"defaultTemperature": func(s *Settings, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		s.DefaultTemperature = f
		return err
	},
	"defaultMaxTokens": func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		s.DefaultMaxTokens = n
		return err
	},
}

// Set assigns one field by its JSON name, case-insensitively.
func (s *Settings) Set(key, value string) error {
	for name, set := range settingSetters {
		if strings.EqualFold(name, key) {
			if err := set(s, strings.TrimSpace(value)); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			return nil
		}
	}
	return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(SettingKeys(), ", "))
}

// =============================================================================
// SETTINGS STORE
// =============================================================================

type settingsBlob struct {
	State   Settings `json:"state"`
	Version int      `json:"version"`
}

// SettingsStore holds the current Settings and persists every change.
// Safe for concurrent use.
type SettingsStore struct {
	mu      sync.RWMutex
	backend storage.Backend
	logger  *slog.Logger
	current Settings
}

// LoadSettings reads the settings blob. A missing blob yields defaults. A
// blob that fails to decode or validate is replaced by defaults and logged,
// since preferences are cheap to redo.
func LoadSettings(ctx context.Context, backend storage.Backend, logger *slog.Logger) (*SettingsStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SettingsStore{backend: backend, logger: logger, current: DefaultSettings()}

	data, err := backend.Get(ctx, storage.KeySettings)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	blob := settingsBlob{State: DefaultSettings()}
	if err := json.Unmarshal(data, &blob); err != nil {
		logger.Warn("settings blob unreadable, using defaults", "error", err)
		return s, nil
	}
	if err := blob.State.Validate(); err != nil {
		logger.Warn("stored settings invalid, using defaults", "error", err)
		return s, nil
	}
	s.current = blob.State
	return s, nil
}

// Get returns a copy of the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// ModelParams implements the orchestrator's settings source.
func (s *SettingsStore) ModelParams() cloud.Params {
	return s.Get().ModelParams()
}

// Replace validates next and persists it.
func (s *SettingsStore) Replace(ctx context.Context, next Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, next)
}

// Update applies fn to a copy of the settings and persists the result if it
// validates. The read-modify-write is atomic.
func (s *SettingsStore) Update(ctx context.Context, fn func(*Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if err := fn(&next); err != nil {
		return err
	}
	return s.commit(ctx, next)
}

// commit validates, persists and swaps in next. Caller holds s.mu.
func (s *SettingsStore) commit(ctx context.Context, next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(settingsBlob{State: next})
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.backend.Put(ctx, storage.KeySettings, data); err != nil {
		s.logger.Error("persist settings failed", "error", err)
		return fmt.Errorf("persist settings: %w", err)
	}
	s.current = next
	return nil
}

// SetValue assigns one field by name from text, as the CLI does.
func (s *SettingsStore) SetValue(ctx context.Context, key, value string) error {
	return s.Update(ctx, func(st *Settings) error {
		return st.Set(key, value)
	})
}

// Reset restores the defaults.
func (s *SettingsStore) Reset(ctx context.Context) error {
	return s.Replace(ctx, DefaultSettings())
}
