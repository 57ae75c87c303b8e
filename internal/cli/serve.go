// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/server"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		noMetrics bool
		noWatch   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for a browser front end",
		Long: `Serve the sessions, settings and streaming sends over HTTP on a loopback
address. Replies are streamed as server-sent events.

The config file is watched while serving; a changed log level applies
immediately, other changes need a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			host, _, err := net.SplitHostPort(a.cfg.Server.Addr)
			if err != nil {
				return NewUsageError("address", a.cfg.Server.Addr, err.Error())
			}
			if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
				a.logger.Warn("listening on a non-loopback address; the API has no authentication", "addr", a.cfg.Server.Addr)
			}

			if !noMetrics {
				a.metrics = telemetry.NewMetrics()
				a.chatOpts = append(a.chatOpts, chat.WithObserver(a.metrics.Observe))
			}
			if err := a.open(ctx); err != nil {
				return err
			}

			srv := server.NewServer(a.cfg.Server, server.Deps{
				Sessions:    a.sessions,
				Chat:        a.orch,
				Settings:    a.settings,
				Credentials: a.creds,
				Validator:   a.client,
				Metrics:     a.metrics,
			}, a.logger)

			fmt.Fprintf(a.errOut, "%s Serving on http://%s (Ctrl+C to stop)\n",
				RenderStatus("ok"), srv.Addr())

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx)
			})
			if !noWatch {
				if path, err := a.configFile(); err == nil {
					if _, statErr := os.Stat(path); statErr == nil {
						g.Go(func() error {
							return a.watchConfig(gctx, path)
						})
					}
				}
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, "+server.DefaultAddr+")")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "Disable the /metrics endpoint")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the config file on change")
	return cmd
}

// watchConfig applies config file changes that are safe to apply live.
func (a *app) watchConfig(ctx context.Context, path string) error {
	w := &config.Watcher{
		Path:   path,
		Logger: a.logger,
		OnChange: func(cfg *config.Config, err error) {
			if err != nil {
				return
			}
			a.applyReload(cfg)
		},
	}
	return w.Run(ctx)
}

// applyReload takes the new log level unless --log-level pinned it, and
// reports which other sections changed.
func (a *app) applyReload(next *config.Config) {
	if a.logLevel == "" {
		if level, err := telemetry.ParseLevel(next.Logging.Level); err == nil && level != a.levelVar.Level() {
			a.levelVar.Set(level)
			a.logger.Info("log level changed", "level", level.String())
		}
	}

	prev := a.cfg
	changed := []struct {
		section string
		differs bool
	}{
		{"api", prev.API != next.API},
		{"storage", prev.Storage != next.Storage},
		{"server", !sameServerConfig(prev.Server, next.Server)},
		{"logging.format", prev.Logging.Format != next.Logging.Format || prev.Logging.File != next.Logging.File},
	}
	for _, c := range changed {
		if c.differs {
			a.logger.Warn("config change requires a restart", "section", c.section)
		}
	}
}

func sameServerConfig(a, b config.ServerConfig) bool {
	return a.Addr == b.Addr &&
		a.RateLimit == b.RateLimit &&
		a.RateBurst == b.RateBurst &&
		slices.Equal(a.CORSOrigins, b.CORSOrigins)
}
