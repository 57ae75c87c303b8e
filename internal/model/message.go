// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
package model

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether r can appear in a transcript.
// System instructions are carried by Session.Personality, never as messages.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// ErrorPrefix marks assistant messages that describe a failed send.
const ErrorPrefix = "❌ Error: "

// Message represents a single message in a session transcript.
//
// Text is append-only for the assistant placeholder while a stream is
// running and immutable afterwards.
type Message struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Role Role   `json:"role"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:   NewMessageID(),
		Role: role,
		Text: text,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, text)
}

// NewAssistantMessage creates an empty assistant placeholder.
func NewAssistantMessage() Message {
	return NewMessage(RoleAssistant, "")
}

// NewErrorMessage creates the assistant message shown when a send fails.
func NewErrorMessage(description string) Message {
	return NewMessage(RoleAssistant, ErrorPrefix+description)
}

// IsError reports whether the message was produced by a failed send.
func (m Message) IsError() bool {
	return m.Role == RoleAssistant && strings.HasPrefix(m.Text, ErrorPrefix)
}

// IsEmpty returns true if the message has no visible content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == ""
}

// Preview returns the first maxLen runes of the text on a single line.
func (m Message) Preview(maxLen int) string {
	text := strings.Join(strings.Fields(m.Text), " ")
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

// NewMessageID returns a lexically sortable message identifier.
// ulid.Make is monotonic within a process, so IDs follow append order.
func NewMessageID() string {
	return ulid.Make().String()
}
