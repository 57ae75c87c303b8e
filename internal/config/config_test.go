// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points the config dir at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RIGRUN_CHAT_HOME", dir)
	for _, env := range []string{
		"RIGRUN_CHAT_BASE_URL", "RIGRUN_CHAT_DATA_DIR", "RIGRUN_CHAT_STORAGE",
		"RIGRUN_CHAT_ADDR", "RIGRUN_CHAT_LOG_LEVEL", "RIGRUN_CHAT_LOG_FORMAT",
	} {
		t.Setenv(env, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoad_DefaultsWithoutFiles(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Timeout() != 60*time.Second {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
}

func TestLoad_TOML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `
[api]
base_url = "http://localhost:9999/v1"

[storage]
backend = "sqlite"

[logging]
level = "debug"
format = "json"
`, 0644)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Format = %q", cfg.Logging.Format)
	}
	// Unset sections keep defaults.
	if cfg.API.TimeoutSecs != 60 || cfg.Server.RateBurst != 20 {
		t.Errorf("defaults not kept: %+v %+v", cfg.API, cfg.Server)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %o, want 600", info.Mode().Perm())
	}
}

func TestLoad_JSONFallback(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.json"), `{"server":{"addr":"127.0.0.1:9000"}}`, 0600)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
}

func TestLoad_UnparseableFileFallsBackToDefaults(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), "[api\nbase_url = ", 0600)

	cfg, err := Load()
	if err == nil {
		t.Fatal("expected a load error to be reported")
	}
	if cfg == nil || cfg.Storage.Backend != "file" {
		t.Fatalf("expected defaults alongside the error, got %+v", cfg)
	}
}

func TestLoad_InvalidValuesFail(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), "[storage]\nbackend = \"redis\"\n", 0600)

	cfg, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if cfg != nil {
		t.Errorf("expected nil config on validation failure")
	}
	var verrs ValidateErrors
	if !errors.As(err, &verrs) || verrs[0].Field != "storage.backend" {
		t.Errorf("error = %v, want storage.backend validation error", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("RIGRUN_CHAT_STORAGE", "sqlite")
	t.Setenv("RIGRUN_CHAT_ADDR", "127.0.0.1:7000")
	t.Setenv("RIGRUN_CHAT_LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Server.Addr != "127.0.0.1:7000" || cfg.Logging.Level != "warn" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	isolate(t)
	cfg := Default()
	cfg.Server.CORSOrigins = []string{"http://example.test"}
	cfg.Logging.File = "/tmp/chat.log"

	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	path, _ := ConfigPathTOML()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# rigrun-chat configuration file") {
		t.Errorf("missing header comment")
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Logging.File != "/tmp/chat.log" || len(loaded.Server.CORSOrigins) != 1 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestSaveJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	isolate(t)
	if err := SaveJSON(Default(), path); err != nil {
		t.Fatalf("SaveJSON() error = %v", err)
	}
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %q", cfg.Version)
	}
}

// =============================================================================
// VALIDATION AND HELPERS
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad url scheme", func(c *Config) { c.API.BaseURL = "ftp://x" }, "api.base_url"},
		{"timeout too large", func(c *Config) { c.API.TimeoutSecs = 10000 }, "api.timeout_secs"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"bad addr", func(c *Config) { c.Server.Addr = "nope" }, "server.addr"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"zero burst", func(c *Config) { c.Server.RateBurst = 0 }, "server.rate_burst"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() = %v, want ValidateErrors", err)
			}
			if verrs[0].Field != tt.field {
				t.Errorf("field = %q, want %q", verrs[0].Field, tt.field)
			}
		})
	}
}

func TestGetSet_DotNotation(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("api.base_url", "http://localhost:1234/v1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cfg.Set("api.timeout_secs", "30"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cfg.Set("server.rate_limit", "2.5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cfg.Set("server.cors_origins", "http://a.test, http://b.test"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := cfg.Get("api.base_url")
	if err != nil || got != "http://localhost:1234/v1" {
		t.Errorf("Get(api.base_url) = %v, %v", got, err)
	}
	if cfg.API.TimeoutSecs != 30 || cfg.Server.RateLimit != 2.5 {
		t.Errorf("typed Set failed: %+v %+v", cfg.API, cfg.Server)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.test" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}

	if _, err := cfg.Get("api.nope"); err == nil {
		t.Error("expected unknown field error")
	}
	if err := cfg.Set("api.base_url.deeper", "x"); err == nil {
		t.Error("expected not-a-struct error")
	}
	if err := cfg.Set("api.timeout_secs", "soon"); err == nil {
		t.Error("expected integer parse error")
	}

	for _, key := range GetAllKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) error = %v", key, err)
		}
	}
}

func TestResolvedDataDir(t *testing.T) {
	dir := isolate(t)
	cfg := Default()

	got, err := cfg.ResolvedDataDir()
	if err != nil || got != filepath.Join(dir, "data") {
		t.Errorf("ResolvedDataDir() = %q, %v", got, err)
	}

	home, _ := os.UserHomeDir()
	cfg.Storage.DataDir = "~/chats"
	got, _ = cfg.ResolvedDataDir()
	if got != filepath.Join(home, "chats") {
		t.Errorf("ResolvedDataDir() = %q, want under home", got)
	}
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[server]\naddr = \"127.0.0.1:1111\"\n", 0600)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	w := &Watcher{
		Path:     path,
		Debounce: 20 * time.Millisecond,
		OnChange: func(cfg *Config, err error) {
			if err == nil {
				changes <- cfg
			}
		},
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "[server]\naddr = \"127.0.0.1:2222\"\n", 0600)

	select {
	case cfg := <-changes:
		if cfg.Server.Addr != "127.0.0.1:2222" {
			t.Errorf("reloaded Addr = %q", cfg.Server.Addr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
}
