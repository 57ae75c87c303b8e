// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/security"
)

// KeyValidation is the `key validate --json` payload.
type KeyValidation struct {
	Valid       bool   `json:"valid"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Message     string `json:"message,omitempty"`
}

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the stored API key",
		Long: `Manage the API key used for completion requests.

The key is stored encrypted in the data directory. Setting ` + security.EnvAPIKey + `
overrides the stored key without changing it.`,
	}
	cmd.AddCommand(quiet(newKeySetCmd(a)))
	cmd.AddCommand(quiet(newKeyClearCmd(a)))
	cmd.AddCommand(quiet(newKeyStatusCmd(a)))
	cmd.AddCommand(quiet(newKeyValidateCmd(a)))
	return cmd
}

func newKeySetCmd(a *app) *cobra.Command {
	var validate bool
	cmd := &cobra.Command{
		Use:   "set [KEY]",
		Short: "Store an API key (prompts when KEY is omitted)",
		Long: `Store an API key. Passing the key as an argument leaves it in your shell
history; omit it to be prompted with hidden input, or pipe it on stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}

			key := firstArg(args)
			if key == "" {
				var err error
				if key, err = a.readSecret("API key: "); err != nil {
					return err
				}
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return security.ErrEmptyKey
			}

			if validate {
				if err := a.client.ValidateKey(ctx, key); err != nil {
					return err
				}
			}
			if err := a.creds.Set(ctx, key); err != nil {
				return err
			}
			status, err := a.creds.Status(ctx)
			if err != nil {
				return err
			}
			return a.emit("key set", status, func() {
				fmt.Fprintf(a.out, "%s API key stored (fingerprint %s)\n",
					RenderStatus("ok"), HighlightStyle.Render(cloud.KeyFingerprint(key)))
				if status.Source == security.SourceEnv {
					fmt.Fprintln(a.out, WarningStyle.Render(security.EnvAPIKey+" is set and takes precedence over the stored key."))
				}
			})
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "Check the key against the API before storing it")
	return cmd
}

func newKeyClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			ok, err := a.confirm("remove the stored API key", yes)
			if err != nil {
				return err
			}
			if !ok {
				ShowCancellationMessage(a.out)
				return nil
			}
			if err := a.creds.Clear(ctx); err != nil {
				return err
			}
			status, err := a.creds.Status(ctx)
			if err != nil {
				return err
			}
			return a.emit("key clear", status, func() {
				fmt.Fprintf(a.out, "%s Stored API key removed\n", RenderStatus("ok"))
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newKeyStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the API key comes from, without revealing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			status, err := a.creds.Status(ctx)
			if err != nil {
				return err
			}
			return a.emit("key status", status, func() {
				renderKeyStatus(a, status)
			})
		},
	}
}

func renderKeyStatus(a *app, status security.Status) {
	fmt.Fprintln(a.out, TitleStyle.Render("API Key"))
	switch status.Source {
	case security.SourceNone:
		fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Source:"), WarningStyle.Render("not configured"))
		fmt.Fprintln(a.out, DimStyle.Render("Run `rigrun-chat key set` to store one."))
		return
	case security.SourceEnv:
		fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Source:"), ValueStyle.Render("environment ("+security.EnvAPIKey+")"))
	default:
		fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Source:"), ValueStyle.Render("stored (encrypted)"))
	}
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Fingerprint:"), ValueStyle.Render(status.Fingerprint))
	fmt.Fprintf(a.out, "%s%d\n", RenderLabel("Length:"), status.Length)
}

func newKeyValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective API key against the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			key, err := a.creds.APIKey(ctx)
			if err != nil {
				return err
			}
			if key == "" {
				return &cloud.AuthError{Missing: true}
			}

			result := KeyValidation{Valid: true, Fingerprint: cloud.KeyFingerprint(key)}
			validateErr := a.client.ValidateKey(ctx, key)
			if validateErr != nil {
				result.Valid = false
				result.Kind = cloud.Classify(validateErr).String()
				result.Message = validateErr.Error()
			}
			if err := a.emit("key validate", result, func() {
				if result.Valid {
					fmt.Fprintf(a.out, "%s API key %s is valid\n", RenderStatus("valid"), result.Fingerprint)
				}
			}); err != nil {
				return err
			}
			return validateErr
		},
	}
}

// readSecret reads one line without echo from a terminal, or plainly from
// piped stdin.
func (a *app) readSecret(prompt string) (string, error) {
	if a.interactive() && a.in == os.Stdin {
		fmt.Fprint(a.errOut, prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(a.errOut)
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			return "", security.ErrEmptyKey
		}
		return "", fmt.Errorf("read key: %w", err)
	}
	return line, nil
}
