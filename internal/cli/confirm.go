// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Confirmation handling for destructive commands.
//
// The pattern is the same everywhere:
//  1. --yes skips the prompt
//  2. --json requires --yes (no interactive prompts in JSON mode)
//  3. a non-terminal stdin requires --yes
//  4. otherwise the user is asked [y/N]

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrConfirmationRequired is returned when a prompt is impossible and --yes
// was not given.
var ErrConfirmationRequired = errors.New("confirmation required: pass --yes")

// ConfirmationOptions controls RequireConfirmation.
type ConfirmationOptions struct {
	// Yes is set by the --yes flag.
	Yes bool
	// JSONMode is set by the --json flag.
	JSONMode bool
	// Interactive reports whether stdin can be prompted.
	Interactive bool
}

// RequireConfirmation asks whether to go ahead with action. It returns
// false with a nil error when the user declines.
func RequireConfirmation(in io.Reader, out io.Writer, action string, opts ConfirmationOptions) (bool, error) {
	if opts.Yes {
		return true, nil
	}
	if opts.JSONMode || !opts.Interactive {
		return false, ErrConfirmationRequired
	}

	fmt.Fprintf(out, "Are you sure you want to %s? [y/N]: ", action)
	return readYes(in)
}

// PromptYesNo asks a non-destructive question. Anything but y/yes is no.
func PromptYesNo(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	ok, _ := readYes(in)
	return ok
}

func readYes(in io.Reader) (bool, error) {
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}

// ShowCancellationMessage prints the standard "Cancelled." line.
func ShowCancellationMessage(out io.Writer) {
	fmt.Fprintln(out, DimStyle.Render("Cancelled."))
}
