// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPersonality is the system instruction given to new sessions.
	DefaultPersonality = "You are a helpful assistant."

	// DefaultSessionName is the display title before a title is derived.
	DefaultSessionName = "New Chat"

	// TitleMaxRunes is the number of code points kept when deriving a title.
	TitleMaxRunes = 50

	// TitleEllipsis is appended to a derived title that was truncated.
	TitleEllipsis = "..."
)

// Session is one independent conversation thread.
type Session struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Messages         []Message `json:"messages"`
	Personality      string    `json:"personality"`
	IsTitleGenerated bool      `json:"isTitleGenerated"`
	CreatedAt        int64     `json:"createdAt"` // Unix milliseconds
}

// NewSession creates an empty session with the default name and personality.
func NewSession(now time.Time) Session {
	return Session{
		ID:          uuid.NewString(),
		Name:        DefaultSessionName,
		Messages:    []Message{},
		Personality: DefaultPersonality,
		CreatedAt:   now.UnixMilli(),
	}
}

// Created returns the creation time.
func (s Session) Created() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// EffectivePersonality returns the system instruction sent upstream.
// An empty personality falls back to DefaultPersonality.
func (s Session) EffectivePersonality() string {
	if s.Personality == "" {
		return DefaultPersonality
	}
	return s.Personality
}

// LastMessage returns the tail of the transcript.
func (s Session) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a deep copy so callers can read without holding store locks.
func (s Session) Clone() Session {
	c := s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return c
}

// DeriveTitle returns the session title for a first user message: the first
// TitleMaxRunes code points, plus TitleEllipsis when anything was cut.
func DeriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= TitleMaxRunes {
		return text
	}
	return string(runes[:TitleMaxRunes]) + TitleEllipsis
}
