// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for all CLI commands.
//
// Colors are adaptive: each style carries a light and a dark variant and
// lipgloss picks one from the background, which ApplyTheme sets from the
// "theme" setting. Colors are disabled entirely for non-TTY output and when
// NO_COLOR is set.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "39"})

	// SectionStyle is used for section headers within commands
	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "235", Dark: "255"})

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"}).
			Width(20)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "236", Dark: "252"})

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"}).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "160", Dark: "196"}).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "166", Dark: "214"})

	// DimStyle is used for secondary information and hints
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "246", Dark: "242"})

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "250", Dark: "240"})

	// HighlightStyle marks the active session and similar emphasis
	HighlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "34", Dark: "82"})

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "31", Dark: "75"})

	// PromptStyle colors the REPL prompt
	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "39"})
)

// Transcript role styles.
var (
	UserRoleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "39"})
	AssistantRoleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "91", Dark: "177"})
	SystemRoleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"})
)

// =============================================================================
// THEME
// =============================================================================

// ApplyTheme selects the light or dark color variants. "system" asks the
// terminal for its background color.
func ApplyTheme(theme string) {
	lipgloss.SetHasDarkBackground(ResolveDark(theme, termenv.HasDarkBackground))
}

// ResolveDark reports whether theme means a dark background. detect is only
// consulted for the system theme.
func ResolveDark(theme string, detect func() bool) bool {
	switch theme {
	case config.ThemeLight:
		return false
	case config.ThemeDark:
		return true
	default:
		if detect == nil {
			return true
		}
		return detect()
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule. Default width is 70.
func RenderSeparator(width ...int) string {
	w := 70
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("─", w))
}

// RenderStatus renders a bracketed status tag in a matching color.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success", "valid":
		return SuccessStyle.Render("[OK]")
	case "error", "fail", "failed", "invalid":
		return ErrorStyle.Render("[FAIL]")
	case "warning", "warn", "pending":
		return WarningStyle.Render("[WARN]")
	default:
		return DimStyle.Render("[" + strings.ToUpper(status) + "]")
	}
}

// RenderLabel renders a label padded to the label width, or to width[0].
func RenderLabel(label string, width ...int) string {
	if len(width) > 0 && width[0] > 0 {
		return LabelStyle.Width(width[0]).Render(label)
	}
	return LabelStyle.Render(label)
}

// RenderRole renders a transcript speaker heading.
func RenderRole(role model.Role) string {
	switch role {
	case model.RoleUser:
		return UserRoleStyle.Render(role.DisplayName())
	case model.RoleAssistant:
		return AssistantRoleStyle.Render(role.DisplayName())
	default:
		return SystemRoleStyle.Render(role.DisplayName())
	}
}

// RenderSeparatorAdaptive renders a separator sized to the terminal,
// capped at 80 columns.
func RenderSeparatorAdaptive() string {
	width := GetTerminalWidth()
	if width > 4 {
		width -= 4
	}
	if width > 80 {
		width = 80
	}
	return RenderSeparator(width)
}
