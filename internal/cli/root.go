// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information, set at build time via -ldflags.
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// quietAnnotation marks commands whose default log level is warn because
// they print to the terminal.
const quietAnnotation = "rigrun-chat/quiet"

// Execute runs the command tree with the process arguments and returns the
// exit status.
func Execute() int {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	root := newRootCmd(a)
	err := root.Execute()
	if closeErr := a.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		DisplayError(a.errOut, err, a.jsonMode)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "rigrun-chat",
		Short: "Chat with OpenAI-compatible models from the terminal",
		Long: `rigrun-chat keeps named chat sessions on disk and streams replies
from an OpenAI-compatible chat completions endpoint.

Use "chat" for an interactive session, "ask" for a single question, or
"serve" to expose the sessions to a browser front end over a loopback
HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, quiet := cmd.Annotations[quietAnnotation]
			return a.setup(quiet)
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file (default ~/.rigrun-chat/config.toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.jsonMode, "json", false, "Print machine-readable JSON")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newChatCmd(a))
	root.AddCommand(newAskCmd(a))
	root.AddCommand(newSessionsCmd(a))
	root.AddCommand(newKeyCmd(a))
	root.AddCommand(newSettingsCmd(a))
	root.AddCommand(newExportCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newVersionCmd(a))

	return root
}

// quiet marks cmd as a terminal command. See quietAnnotation.
func quiet(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[quietAnnotation] = "true"
	return cmd
}

// VersionInfo is the `version --json` payload.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCmd(a *app) *cobra.Command {
	return quiet(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{
				Version:   Version,
				GitCommit: GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			return a.emit("version", info, func() {
				printVersion(a.out, info)
			})
		},
	})
}

func printVersion(w io.Writer, info VersionInfo) {
	fmt.Fprintf(w, "rigrun-chat %s\n", info.Version)
	fmt.Fprintf(w, "  commit:   %s\n", info.GitCommit)
	fmt.Fprintf(w, "  built:    %s\n", info.BuildDate)
	fmt.Fprintf(w, "  go:       %s\n", info.GoVersion)
	fmt.Fprintf(w, "  platform: %s\n", info.Platform)
}
