// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/export"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// historyFileName is the REPL input history, kept in the config dir.
const historyFileName = "chat_history"

func newChatCmd(a *app) *cobra.Command {
	var sessionRef string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat on the active session (or --session).

Type a message and press Enter. Lines starting with / are commands; /help
lists them. Ctrl+C stops a reply in progress, Ctrl+D exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.jsonMode {
				return NewUsageError("flag", "--json", "chat is interactive; use ask for JSON output")
			}
			if err := a.open(ctx); err != nil {
				return err
			}
			id, err := a.resolveSession(sessionRef)
			if err != nil {
				return err
			}
			if id != a.sessions.ActiveID() {
				if err := a.sessions.SetActive(ctx, id); err != nil {
					return err
				}
			}

			editor := NewLineEditor()
			defer editor.Close()

			r := &repl{app: a, line: editor, sessionID: id}
			stop := r.cancelOnInterrupt()
			defer stop()

			r.printWelcome()
			return r.run(ctx)
		},
	}
	cmd.Flags().StringVarP(&sessionRef, "session", "s", "", "Session ID or unique prefix (default: active session)")
	return quiet(cmd)
}

// =============================================================================
// LINE EDITING
// =============================================================================

// LineReader is the input side of the REPL.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// LineEditor provides input history and line editing backed by liner.
type LineEditor struct {
	line        *liner.State
	historyFile string
}

// NewLineEditor creates a LineEditor and loads the saved history.
func NewLineEditor() *LineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	e := &LineEditor{line: line, historyFile: filepath.Join(dir, historyFileName)}
	if f, err := os.Open(e.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return e
}

// Prompt reads one line.
func (e *LineEditor) Prompt(prompt string) (string, error) {
	return e.line.Prompt(prompt)
}

// AppendHistory records a non-blank line.
func (e *LineEditor) AppendHistory(item string) {
	if strings.TrimSpace(item) != "" {
		e.line.AppendHistory(item)
	}
}

// Close saves the history with mode 0600 and restores the terminal.
func (e *LineEditor) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = e.line.WriteHistory(f)
			f.Close()
		}
	}
	e.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// repl is one interactive chat. The current session can change through
// slash commands.
type repl struct {
	app  *app
	line LineReader

	mu        sync.Mutex
	sessionID string
}

func (r *repl) current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *repl) setCurrent(id string) {
	r.mu.Lock()
	r.sessionID = id
	r.mu.Unlock()
}

// cancelOnInterrupt turns SIGINT during a reply into a cancel of the
// current session's send. At the prompt liner sees Ctrl+C as a key instead.
func (r *repl) cancelOnInterrupt() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigCh:
				if r.app.orch.Cancel(r.current()) {
					fmt.Fprintln(r.app.errOut, "\n"+WarningStyle.Render("[Cancelled]"))
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// run reads lines until /quit, Ctrl+C at the prompt, or EOF.
func (r *repl) run(ctx context.Context) error {
	for {
		input, err := r.line.Prompt(PromptStyle.Render("rigrun-chat> "))
		if err != nil {
			// liner.ErrPromptAborted (Ctrl+C) and io.EOF (Ctrl+D) both end the chat.
			fmt.Fprintln(r.app.out)
			return nil
		}
		r.line.AppendHistory(input)

		input = strings.TrimSpace(input)
		switch {
		case input == "":
			continue
		case strings.HasPrefix(input, "/"):
			cont, err := r.handleSlashCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(r.app.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !cont {
				return nil
			}
		case strings.EqualFold(input, "exit"), strings.EqualFold(input, "quit"):
			return nil
		default:
			if err := r.send(ctx, input); err != nil {
				fmt.Fprintf(r.app.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// send runs one turn and streams the reply. A canceled reply is not an
// error; transport errors are returned after being recorded in the
// transcript.
func (r *repl) send(ctx context.Context, text string) error {
	a := r.app
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, AssistantRoleStyle.Render("Assistant"))

	err := a.orch.SendMessage(ctx, r.current(), text, func(s string) {
		fmt.Fprint(a.out, s)
	})
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return nil
	}
	return err
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs one /command. It returns false to end the chat.
func (r *repl) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	command, rest, _ := strings.Cut(input, " ")
	command = strings.ToLower(command)
	rest = strings.TrimSpace(rest)
	a := r.app

	switch command {
	case "/help", "/h", "/?", "/":
		printChatHelp(a)
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	case "/new", "/n":
		sess, err := a.sessions.CreateSession(ctx)
		if err != nil {
			return true, err
		}
		if rest != "" {
			if err := a.sessions.RenameSession(ctx, sess.ID, rest); err != nil {
				return true, err
			}
		}
		r.setCurrent(sess.ID)
		fmt.Fprintf(a.out, "%s New session %s\n", RenderStatus("ok"), HighlightStyle.Render(shortID(sess.ID)))
		return true, nil

	case "/sessions", "/ls":
		renderSessionTable(a.out, a.sessions.Sessions(), r.current(), timeNow(), GetTerminalWidth())
		return true, nil

	case "/switch", "/use":
		if rest == "" {
			return true, errors.New("usage: /switch ID")
		}
		id, err := a.resolveSession(rest)
		if err != nil {
			return true, err
		}
		if err := a.sessions.SetActive(ctx, id); err != nil {
			return true, err
		}
		r.setCurrent(id)
		sess, _ := a.sessions.Session(id)
		fmt.Fprintf(a.out, "%s Switched to %s (%s)\n", RenderStatus("ok"), shortID(id), sess.Name)
		return true, nil

	case "/rename":
		if rest == "" {
			return true, errors.New("usage: /rename NAME")
		}
		if err := a.sessions.RenameSession(ctx, r.current(), rest); err != nil {
			return true, err
		}
		fmt.Fprintf(a.out, "%s Renamed to %q\n", RenderStatus("ok"), rest)
		return true, nil

	case "/personality", "/p":
		if rest == "" {
			sess, _ := a.sessions.Session(r.current())
			fmt.Fprintf(a.out, "%s %s\n", InfoStyle.Render("[Personality]"), sess.EffectivePersonality())
			return true, nil
		}
		if err := a.sessions.SetPersonality(ctx, r.current(), rest); err != nil {
			return true, err
		}
		fmt.Fprintf(a.out, "%s Personality updated\n", RenderStatus("ok"))
		return true, nil

	case "/history":
		sess, _ := a.sessions.Session(r.current())
		renderTranscript(a.out, sess, a.settings.Get().ShowTimestamps)
		return true, nil

	case "/delete":
		return true, r.deleteCurrent(ctx, rest == "-y" || rest == "--yes")

	case "/export":
		format := rest
		if format == "" {
			format = "md"
		}
		exporter, err := export.ForFormat(format, export.DefaultOptions())
		if err != nil {
			return true, err
		}
		sess, _ := a.sessions.Session(r.current())
		path, err := export.ExportToFile(sess, exporter, export.DefaultOptions())
		if err != nil {
			return true, err
		}
		fmt.Fprintf(a.out, "%s Exported to %s\n", RenderStatus("ok"), path)
		return true, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// deleteCurrent deletes the current session after confirmation and moves to
// the new active one, creating a session if none is left.
func (r *repl) deleteCurrent(ctx context.Context, yes bool) error {
	a := r.app
	id := r.current()
	sess, _ := a.sessions.Session(id)

	if !yes {
		answer, err := r.line.Prompt(fmt.Sprintf("Delete %q (%d messages)? [y/N]: ", sess.Name, len(sess.Messages)))
		if err != nil {
			return nil
		}
		if ans := strings.ToLower(strings.TrimSpace(answer)); ans != "y" && ans != "yes" {
			ShowCancellationMessage(a.out)
			return nil
		}
	}

	if err := a.orch.DeleteSession(ctx, id); err != nil {
		return err
	}
	next := a.sessions.ActiveID()
	if next == "" {
		created, err := a.sessions.CreateSession(ctx)
		if err != nil {
			return err
		}
		next = created.ID
	}
	r.setCurrent(next)
	nextSess, _ := a.sessions.Session(next)
	fmt.Fprintf(a.out, "%s Deleted. Now on %s (%s)\n", RenderStatus("ok"), shortID(next), nextSess.Name)
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func (r *repl) printWelcome() {
	a := r.app
	sess, _ := a.sessions.Session(r.current())
	s := a.settings.Get()

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, TitleStyle.Render("rigrun-chat"))
	fmt.Fprintln(a.out, RenderSeparator(30))
	fmt.Fprintf(a.out, "%s %s (%s)\n", InfoStyle.Render("Session:"), util.TruncateWidth(sess.Name, 50), shortID(sess.ID))
	fmt.Fprintf(a.out, "%s %s\n", InfoStyle.Render("Model:  "), s.DefaultModel)
	if n := len(sess.Messages); n > 0 {
		fmt.Fprintf(a.out, "%s %d\n", InfoStyle.Render("History:"), n)
	}
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(a.out)
}

func printChatHelp(a *app) {
	commands := []struct{ cmd, desc string }{
		{"/new [NAME]", "Start a new session"},
		{"/sessions", "List sessions"},
		{"/switch ID", "Switch to another session (unique ID prefix)"},
		{"/rename NAME", "Rename the current session"},
		{"/personality [TEXT]", "Show or set the system instruction"},
		{"/history", "Show the transcript"},
		{"/export [md|json|yaml]", "Export the transcript to the current directory"},
		{"/delete", "Delete the current session"},
		{"/help", "Show this help"},
		{"/quit", "Exit"},
	}

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, SectionStyle.Render("Commands"))
	for _, c := range commands {
		fmt.Fprintf(a.out, "  %s  %s\n", HighlightStyle.Render(util.PadWidth(c.cmd, 24)), DimStyle.Render(c.desc))
	}
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, DimStyle.Render("Ctrl+C stops a reply in progress, Ctrl+D exits."))
	fmt.Fprintln(a.out)
}
