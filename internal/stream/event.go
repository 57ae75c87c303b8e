// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

// Event is one decoder output: TextIncrement, ParseSkipped or StreamEnded.
type Event interface {
	isEvent()
}

// TextIncrement is one non-empty delta of assistant text.
type TextIncrement struct {
	Text string
}

// ParseSkipped is a complete line that did not parse as a JSON frame. It is
// informational and never ends the stream.
type ParseSkipped struct {
	Line string
	Err  error
}

// StreamEnded is the last event of a stream. Err is nil when the upstream
// sent [DONE] or closed the connection cleanly.
type StreamEnded struct {
	Err error
}

func (TextIncrement) isEvent() {}
func (ParseSkipped) isEvent()  {}
func (StreamEnded) isEvent()   {}
