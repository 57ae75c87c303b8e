// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// =============================================================================
// LOGGER CONSTRUCTION
// =============================================================================

// ParseLevel converts a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger creates a structured logger writing to w. format is "text" or
// "json"; anything else falls back to text. Pass a *slog.LevelVar as level
// to change verbosity at runtime.
func NewLogger(w io.Writer, level slog.Leveler, format string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(format, FormatJSON) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("app", "rigrun-chat")
}

// Setup builds the logger described by cfg. When cfg.File is set the log
// goes there (appending) instead of fallback. If lv is not nil it is set to
// the configured level and the logger follows later changes to it. The
// returned closer releases the file and is always non-nil.
func Setup(cfg config.LoggingConfig, fallback io.Writer, lv *slog.LevelVar) (*slog.Logger, io.Closer, error) {
	parsed, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nopCloser{}, err
	}
	var level slog.Leveler = parsed
	if lv != nil {
		lv.Set(parsed)
		level = lv
	}

	if cfg.File == "" {
		return NewLogger(fallback, level, cfg.Format), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
		return nil, nopCloser{}, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nopCloser{}, fmt.Errorf("open log file: %w", err)
	}
	return NewLogger(f, level, cfg.Format), f, nil
}

// Discard returns a logger that drops everything. Used by commands that
// print to the terminal and by tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
