// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// AskResult is the `ask --json` payload.
type AskResult struct {
	SessionID string          `json:"session_id"`
	Reply     string          `json:"reply"`
	Canceled  bool            `json:"canceled,omitempty"`
	Messages  []model.Message `json:"messages"`
}

func newAskCmd(a *app) *cobra.Command {
	var (
		sessionRef string
		newSession bool
	)
	cmd := &cobra.Command{
		Use:   "ask [QUESTION...]",
		Short: "Send one message and print the reply",
		Long: `Send one message on the active session (or --session) and stream the
reply to stdout. With no arguments the question is read from stdin.
Ctrl+C stops the reply; the text received so far is kept.`,
		Example: `  rigrun-chat ask "What is a goroutine?"
  git diff | rigrun-chat ask --new`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if strings.TrimSpace(text) == "" {
				b, err := io.ReadAll(a.in)
				if err != nil {
					return fmt.Errorf("read question: %w", err)
				}
				text = string(b)
			}
			if strings.TrimSpace(text) == "" {
				return NewUsageError("question", "", "must not be empty")
			}

			var id string
			if newSession {
				sess, err := a.sessions.CreateSession(ctx)
				if err != nil {
					return err
				}
				id = sess.ID
			} else {
				var err error
				if id, err = a.resolveSession(sessionRef); err != nil {
					return err
				}
			}

			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.ask(sigCtx, id, text)
		},
	}
	cmd.Flags().StringVarP(&sessionRef, "session", "s", "", "Session ID or unique prefix (default: active session)")
	cmd.Flags().BoolVar(&newSession, "new", false, "Start a new session for the question")
	cmd.MarkFlagsMutuallyExclusive("session", "new")
	return quiet(cmd)
}

// ask sends text on session id. Increments are printed as they arrive
// unless in JSON mode, where the whole result is printed at the end.
func (a *app) ask(ctx context.Context, id, text string) error {
	before := len(a.sessions.GetMessages(id))

	var onIncrement func(string)
	if !a.jsonMode {
		onIncrement = func(s string) { fmt.Fprint(a.out, s) }
	}
	err := a.orch.SendMessage(ctx, id, text, onIncrement)
	canceled := errors.Is(err, context.Canceled)
	if !a.jsonMode {
		fmt.Fprintln(a.out)
		if canceled {
			fmt.Fprintln(a.errOut, WarningStyle.Render("[Cancelled]"))
		}
	}
	if err != nil && !canceled {
		return err
	}

	messages := a.sessions.GetMessages(id)
	if before < len(messages) {
		messages = messages[before:]
	} else {
		messages = nil
	}
	result := AskResult{SessionID: id, Canceled: canceled, Messages: messages}
	if last, ok := lastAssistant(messages); ok {
		result.Reply = last.Text
	}
	return OutputJSON(a.out, a.jsonMode, "ask", func() (any, error) { return result, nil })
}

func lastAssistant(messages []model.Message) (model.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant && !messages[i].IsError() {
			return messages[i], true
		}
	}
	return model.Message{}, false
}
