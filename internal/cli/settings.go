// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change user preferences",
		Long: `Show or change the preferences shared with the browser front end.

Keys: ` + strings.Join(config.SettingKeys(), ", ") + `
Known models: ` + strings.Join(config.KnownModels, ", ") + ` (others are accepted as typed)`,
	}
	show := quiet(newSettingsShowCmd(a))
	cmd.RunE = show.RunE
	cmd.AddCommand(show)
	cmd.AddCommand(quiet(newSettingsSetCmd(a)))
	cmd.AddCommand(quiet(newSettingsResetCmd(a)))
	return quiet(cmd)
}

func newSettingsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			s := a.settings.Get()
			return a.emit("settings show", s, func() {
				renderSettings(a.out, s)
			})
		},
	}
}

func newSettingsSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one setting",
		Example: `  rigrun-chat settings set defaultModel gpt-4
  rigrun-chat settings set defaultTemperature 0.2
  rigrun-chat settings set theme dark`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := a.settings.SetValue(ctx, args[0], args[1]); err != nil {
				return &UsageError{Field: "setting " + args[0], Value: args[1], Reason: err.Error()}
			}
			s := a.settings.Get()
			ApplyTheme(s.Theme)
			return a.emit("settings set", s, func() {
				fmt.Fprintf(a.out, "%s %s = %s\n", RenderStatus("ok"), args[0], args[1])
			})
		},
	}
}

func newSettingsResetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Restore the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			ok, err := a.confirm("reset all settings to their defaults", yes)
			if err != nil {
				return err
			}
			if !ok {
				ShowCancellationMessage(a.out)
				return nil
			}
			if err := a.settings.Reset(ctx); err != nil {
				return err
			}
			s := a.settings.Get()
			return a.emit("settings reset", s, func() {
				fmt.Fprintf(a.out, "%s Settings reset\n", RenderStatus("ok"))
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func renderSettings(w io.Writer, s config.Settings) {
	fmt.Fprintln(w, TitleStyle.Render("Settings"))
	rows := []struct{ label, value string }{
		{"theme", s.Theme},
		{"showTimestamps", fmt.Sprint(s.ShowTimestamps)},
		{"autoScroll", fmt.Sprint(s.AutoScroll)},
		{"defaultModel", s.DefaultModel},
		{"defaultTemperature", fmt.Sprint(s.DefaultTemperature)},
		{"defaultMaxTokens", fmt.Sprint(s.DefaultMaxTokens)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s%s\n", RenderLabel(r.label), ValueStyle.Render(r.value))
	}
}
