// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs conversation turns.
//
// An Orchestrator appends the user message, sends the session's history
// through the transport, and applies each decoded text increment to the
// trailing assistant message. Every session moves through
// Idle, Sending, Streaming and (on failure) Error, and always lands back in
// Idle. Only one send runs per session at a time; sends on different
// sessions are independent.
//
// Failures become a single assistant message prefixed with model.ErrorPrefix.
// Text already streamed before a failure is kept.
package chat
