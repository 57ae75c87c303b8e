// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// shortIDLen is how much of a session ID the list shows. Any unique prefix
// is accepted wherever an ID is expected.
const shortIDLen = 8

// SessionInfo is one row of `sessions list --json`.
type SessionInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Messages    int       `json:"messages"`
	Personality string    `json:"personality"`
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"active"`
}

func sessionInfo(s model.Session, activeID string) SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		Name:        s.Name,
		Messages:    len(s.Messages),
		Personality: s.EffectivePersonality(),
		CreatedAt:   s.Created().UTC(),
		Active:      s.ID == activeID,
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "List and manage chat sessions",
	}
	list := newSessionsListCmd(a)
	cmd.RunE = list.RunE

	cmd.AddCommand(list)
	cmd.AddCommand(newSessionsNewCmd(a))
	cmd.AddCommand(newSessionsShowCmd(a))
	cmd.AddCommand(newSessionsRenameCmd(a))
	cmd.AddCommand(newSessionsPersonalityCmd(a))
	cmd.AddCommand(newSessionsDeleteCmd(a))
	cmd.AddCommand(newSessionsUseCmd(a))
	for _, sub := range cmd.Commands() {
		quiet(sub)
	}
	return quiet(cmd)
}

func newSessionsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, oldest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			sessions := a.sessions.Sessions()
			activeID := a.sessions.ActiveID()

			infos := make([]SessionInfo, 0, len(sessions))
			for _, s := range sessions {
				infos = append(infos, sessionInfo(s, activeID))
			}
			return a.emit("sessions list", infos, func() {
				renderSessionTable(a.out, sessions, activeID, timeNow(), GetTerminalWidth())
			})
		},
	}
}

func newSessionsNewCmd(a *app) *cobra.Command {
	var name, personality string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a session and make it active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			sess, err := a.sessions.CreateSession(ctx)
			if err != nil {
				return err
			}
			if name != "" {
				if err := a.sessions.RenameSession(ctx, sess.ID, name); err != nil {
					return err
				}
			}
			if personality != "" {
				if err := a.sessions.SetPersonality(ctx, sess.ID, personality); err != nil {
					return err
				}
			}
			sess, _ = a.sessions.Session(sess.ID)
			return a.emit("sessions new", sessionInfo(sess, a.sessions.ActiveID()), func() {
				fmt.Fprintf(a.out, "%s Created session %s (%s)\n",
					RenderStatus("ok"), HighlightStyle.Render(shortID(sess.ID)), sess.Name)
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Session name")
	cmd.Flags().StringVarP(&personality, "personality", "p", "", "System instruction for the session")
	return cmd
}

func newSessionsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [ID]",
		Short: "Print a session transcript (default: active session)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			id, err := a.resolveSession(firstArg(args))
			if err != nil {
				return err
			}
			sess, _ := a.sessions.Session(id)
			showTimestamps := a.settings.Get().ShowTimestamps
			return a.emit("sessions show", sess, func() {
				renderTranscript(a.out, sess, showTimestamps)
			})
		},
	}
}

func newSessionsRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			id, err := a.resolveSession(args[0])
			if err != nil {
				return err
			}
			name := strings.TrimSpace(strings.Join(args[1:], " "))
			if name == "" {
				return NewUsageError("name", name, "must not be empty")
			}
			if err := a.sessions.RenameSession(ctx, id, name); err != nil {
				return err
			}
			sess, _ := a.sessions.Session(id)
			return a.emit("sessions rename", sessionInfo(sess, a.sessions.ActiveID()), func() {
				fmt.Fprintf(a.out, "%s Renamed %s to %q\n", RenderStatus("ok"), shortID(id), name)
			})
		},
	}
}

func newSessionsPersonalityCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "personality ID TEXT",
		Short: "Set the system instruction of a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			id, err := a.resolveSession(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			if err := a.sessions.SetPersonality(ctx, id, text); err != nil {
				return err
			}
			sess, _ := a.sessions.Session(id)
			return a.emit("sessions personality", sessionInfo(sess, a.sessions.ActiveID()), func() {
				fmt.Fprintf(a.out, "%s Personality of %s updated\n", RenderStatus("ok"), shortID(id))
			})
		},
	}
}

func newSessionsDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			id, err := a.resolveSession(args[0])
			if err != nil {
				return err
			}
			sess, _ := a.sessions.Session(id)

			ok, err := a.confirm(fmt.Sprintf("delete session %q (%d messages)", sess.Name, len(sess.Messages)), yes)
			if err != nil {
				return err
			}
			if !ok {
				ShowCancellationMessage(a.out)
				return nil
			}
			if err := a.orch.DeleteSession(ctx, id); err != nil {
				return err
			}
			result := map[string]string{"deleted": id, "active": a.sessions.ActiveID()}
			return a.emit("sessions delete", result, func() {
				fmt.Fprintf(a.out, "%s Deleted session %s\n", RenderStatus("ok"), shortID(id))
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newSessionsUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "use ID",
		Aliases: []string{"switch"},
		Short:   "Make a session the active one",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			id, err := a.resolveSession(args[0])
			if err != nil {
				return err
			}
			if err := a.sessions.SetActive(ctx, id); err != nil {
				return err
			}
			sess, _ := a.sessions.Session(id)
			return a.emit("sessions use", sessionInfo(sess, id), func() {
				fmt.Fprintf(a.out, "%s Active session: %s (%s)\n", RenderStatus("ok"), shortID(id), sess.Name)
			})
		},
	}
}

// =============================================================================
// RENDERING
// =============================================================================

// renderSessionTable prints one line per session: marker, short ID, name,
// message count and age. The name column absorbs the spare width.
func renderSessionTable(w io.Writer, sessions []model.Session, activeID string, now time.Time, width int) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No sessions."))
		return
	}

	const (
		markerCol = 2
		msgsCol   = 6
		ageCol    = 9
		gaps      = 3
	)
	nameCol := width - markerCol - shortIDLen - msgsCol - ageCol - gaps
	if nameCol < 12 {
		nameCol = 12
	}

	header := "  " + util.PadWidth("ID", shortIDLen) + " " + util.PadWidth("NAME", nameCol) + " " +
		fmt.Sprintf("%*s", msgsCol, "MSGS") + " " + "CREATED"
	fmt.Fprintln(w, DimStyle.Render(header))

	for _, s := range sessions {
		marker := "  "
		if s.ID == activeID {
			marker = HighlightStyle.Render("*") + " "
		}
		name := util.PadWidth(util.TruncateWidth(util.SingleLine(s.Name), nameCol), nameCol)
		fmt.Fprintf(w, "%s%s %s %*d %s\n",
			marker,
			util.PadWidth(shortID(s.ID), shortIDLen),
			name,
			msgsCol, len(s.Messages),
			DimStyle.Render(formatAge(s.Created(), now)))
	}
}

// renderTranscript prints a session as speaker headings and text.
func renderTranscript(w io.Writer, sess model.Session, showTimestamps bool) {
	fmt.Fprintln(w, TitleStyle.Render(sess.Name))
	if showTimestamps {
		fmt.Fprintln(w, DimStyle.Render("Created "+sess.Created().Format(time.RFC1123)))
	}
	fmt.Fprintln(w, DimStyle.Render("Personality: "+sess.EffectivePersonality()))
	fmt.Fprintln(w, RenderSeparator(40))

	if len(sess.Messages) == 0 {
		fmt.Fprintln(w, DimStyle.Render("(no messages)"))
		return
	}
	for _, m := range sess.Messages {
		fmt.Fprintln(w)
		fmt.Fprintln(w, RenderRole(m.Role))
		switch {
		case m.IsError():
			fmt.Fprintln(w, ErrorStyle.Render(m.Text))
		case m.IsEmpty():
			fmt.Fprintln(w, DimStyle.Render("(no response)"))
		default:
			fmt.Fprintln(w, WrapText(m.Text, 0))
		}
	}
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
