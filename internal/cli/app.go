// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/security"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds the global flags and the components a command needs. Config
// and logging are set up for every command; storage and everything built
// on it only when a command calls open.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// Global flags
	configPath string
	logLevel   string
	jsonMode   bool
	noColor    bool

	// interactive reports whether stdin can be prompted.
	interactive func() bool

	cfg       *config.Config
	levelVar  *slog.LevelVar
	logger    *slog.Logger
	logCloser io.Closer

	backend  storage.Backend
	sessions *session.Store
	settings *config.SettingsStore
	creds    *security.CredentialStore
	client   *cloud.Client
	metrics  *telemetry.Metrics
	orch     *chat.Orchestrator

	// chatOpts are extra orchestrator options, e.g. a metrics observer.
	chatOpts []chat.Option
	credOpts []security.CredentialOption
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:          in,
		out:         out,
		errOut:      errOut,
		interactive: IsTTY,
		levelVar:    new(slog.LevelVar),
		logger:      telemetry.Discard(),
	}
}

// setup loads the config and builds the logger. quiet raises the default
// log level to warn so terminal output stays readable; an explicit
// --log-level or a log file turns that off.
func (a *app) setup(quiet bool) error {
	if a.noColor {
		ForceColorsEnabled(false)
	}

	cfg, err := a.loadConfig()
	if cfg == nil {
		return err
	}
	a.cfg = cfg

	logCfg := cfg.Logging
	switch {
	case a.logLevel != "":
		logCfg.Level = a.logLevel
	case quiet && logCfg.File == "":
		logCfg.Level = "warn"
	}
	logger, closer, setupErr := telemetry.Setup(logCfg, a.errOut, a.levelVar)
	if setupErr != nil {
		return NewUsageError("log level", logCfg.Level, setupErr.Error())
	}
	a.logger, a.logCloser = logger, closer
	slog.SetDefault(logger)

	if err != nil {
		a.logger.Warn("config file could not be read; using defaults", "error", err)
	}
	return nil
}

// loadConfig returns the config and, with a non-nil config, a warning.
func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		cfg, err := config.LoadFromPath(a.configPath)
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load()
}

// configFile is the path `serve` watches and `config init` writes.
func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPathTOML()
}

// open builds storage, the stores, the transport and the orchestrator.
func (a *app) open(ctx context.Context) error {
	if a.orch != nil {
		return nil
	}
	if a.cfg == nil {
		return errors.New("config not loaded")
	}

	dataDir, err := a.cfg.ResolvedDataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	backend, err := storage.Open(storage.Kind(a.cfg.Storage.Backend), dataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.backend = backend

	a.sessions, err = session.Load(ctx, backend, session.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	a.settings, err = config.LoadSettings(ctx, backend, a.logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	ApplyTheme(a.settings.Get().Theme)

	credOpts := append([]security.CredentialOption{security.WithLogger(a.logger)}, a.credOpts...)
	a.creds = security.NewCredentialStore(backend, dataDir, credOpts...)
	a.client = cloud.NewClient().
		WithBaseURL(a.cfg.API.BaseURL).
		WithTimeout(a.cfg.Timeout()).
		WithLogger(a.logger)

	opts := append([]chat.Option{chat.WithLogger(a.logger)}, a.chatOpts...)
	a.orch = chat.New(a.sessions, a.client, a.creds, a.settings, opts...)

	a.logger.Debug("storage opened", "backend", a.cfg.Storage.Backend, "dir", dataDir, "sessions", a.sessions.Len())
	return nil
}

// close flushes and releases everything open acquired.
func (a *app) close() error {
	var errs []error
	if a.sessions != nil {
		errs = append(errs, a.sessions.Flush(context.Background()))
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}

// resolveSession returns the full ID for ref, which may be a unique
// prefix. An empty ref means the active session.
func (a *app) resolveSession(ref string) (string, error) {
	if ref == "" {
		if active := a.sessions.ActiveID(); active != "" {
			return active, nil
		}
		return "", fmt.Errorf("%w: no active session", session.ErrNotFound)
	}
	if _, ok := a.sessions.Session(ref); ok {
		return ref, nil
	}
	return matchSessionPrefix(a.sessions.Sessions(), ref)
}

// matchSessionPrefix finds the single session whose ID starts with prefix.
func matchSessionPrefix(sessions []model.Session, prefix string) (string, error) {
	var match string
	for _, s := range sessions {
		if !strings.HasPrefix(s.ID, prefix) {
			continue
		}
		if match != "" {
			return "", NewUsageError("session ID", prefix, "matches more than one session")
		}
		match = s.ID
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", session.ErrNotFound, prefix)
	}
	return match, nil
}

// confirm asks before a destructive action.
func (a *app) confirm(action string, yes bool) (bool, error) {
	return RequireConfirmation(a.in, a.out, action, ConfirmationOptions{
		Yes:         yes,
		JSONMode:    a.jsonMode,
		Interactive: a.interactive(),
	})
}

// emit prints data as a JSON envelope in JSON mode, or calls human.
func (a *app) emit(command string, data any, human func()) error {
	return OutputJSON(a.out, a.jsonMode, command, func() (any, error) {
		if !a.jsonMode {
			human()
		}
		return data, nil
	})
}
