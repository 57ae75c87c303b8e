// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// State is the per-session send state.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Busy reports whether a send is in progress.
func (s State) Busy() bool {
	return s == StateSending || s == StateStreaming
}

// Transition is one state change, delivered to observers.
type Transition struct {
	SessionID string
	From      State
	To        State
	Err       error // set when To is StateError
}
