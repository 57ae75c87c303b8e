// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - The config command.
//
// Subcommands:
//   show (default)      Display the effective configuration as TOML
//   init [--force]      Write the defaults to the config file
//   get <key>           Print one value (dot notation)
//   set <key> <value>   Change one value and save
//   path                Show the config file location
//
// Examples:
//   rigrun-chat config
//   rigrun-chat config init
//   rigrun-chat config set storage.backend sqlite
//   rigrun-chat config set server.addr 127.0.0.1:9000
//   rigrun-chat config get api.base_url

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify the configuration file",
		Long: `View and modify the process configuration.

Keys: ` + strings.Join(config.GetAllKeys(), ", "),
	}
	show := newConfigShowCmd(a)
	cmd.RunE = show.RunE
	cmd.AddCommand(show)
	cmd.AddCommand(newConfigInitCmd(a))
	cmd.AddCommand(newConfigGetCmd(a))
	cmd.AddCommand(newConfigSetCmd(a))
	cmd.AddCommand(newConfigPathCmd(a))
	for _, sub := range cmd.Commands() {
		quiet(sub)
	}
	return quiet(cmd)
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.jsonMode {
				return NewJSONResponse("config show", a.cfg).Write(a.out)
			}
			data, err := a.cfg.EncodeTOML()
			if err != nil {
				return err
			}
			_, err = a.out.Write(data)
			return err
		},
	}
}

func newConfigInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFile()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := saveConfig(config.Default(), path); err != nil {
				return err
			}
			return a.emit("config init", map[string]string{"path": path}, func() {
				fmt.Fprintf(a.out, "%s Wrote %s\n", RenderStatus("ok"), path)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return NewUsageError("key", args[0], err.Error())
			}
			return a.emit("config get", map[string]any{"key": args[0], "value": v}, func() {
				fmt.Fprintln(a.out, formatConfigValue(v))
			})
		},
	}
}

func newConfigSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one configuration value and save the file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			path, err := a.configFile()
			if err != nil {
				return err
			}

			// Edit the file contents, not the effective config, so env
			// overrides are not persisted.
			cfg := config.Default()
			if _, statErr := os.Stat(path); statErr == nil {
				if err := decodeConfigFile(cfg, path); err != nil {
					return err
				}
			}
			if err := cfg.Set(key, value); err != nil {
				return NewUsageError("key", key, err.Error())
			}
			cfg.SetDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := saveConfig(cfg, path); err != nil {
				return err
			}
			return a.emit("config set", map[string]string{"key": key, "value": value, "path": path}, func() {
				fmt.Fprintf(a.out, "%s %s = %s\n", RenderStatus("ok"), key, value)
			})
		},
	}
}

func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFile()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(path)
			exists := statErr == nil
			return a.emit("config path", map[string]any{"path": path, "exists": exists}, func() {
				fmt.Fprintln(a.out, path)
				if !exists {
					fmt.Fprintln(a.out, DimStyle.Render("(not created yet; run `rigrun-chat config init`)"))
				}
			})
		},
	}
}

func saveConfig(cfg *config.Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}

func decodeConfigFile(cfg *config.Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return config.LoadJSON(cfg, path)
	}
	return config.LoadTOML(cfg, path)
}

func formatConfigValue(v any) string {
	if list, ok := v.([]string); ok {
		return strings.Join(list, ",")
	}
	return fmt.Sprint(v)
}
