// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	Path     string
	Debounce time.Duration
	Logger   *slog.Logger

	// OnChange receives the reloaded config, or the load error. It runs on
	// the watcher goroutine.
	OnChange func(*Config, error)
}

// Watch runs a Watcher for path with default settings until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	w := &Watcher{Path: path, OnChange: onChange}
	return w.Run(ctx)
}

// Run blocks until ctx is done. The parent directory is watched rather than
// the file so that editors which replace the file by rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	logger.Debug("watching config", "path", target)

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				fire = time.After(debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)

		case <-fire:
			fire = nil
			cfg, err := LoadFromPath(target)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				logger.Warn("config reload failed", "path", target, "error", err)
			} else {
				logger.Info("config reloaded", "path", target)
			}
			if w.OnChange != nil {
				w.OnChange(cfg, err)
			}
		}
	}
}
