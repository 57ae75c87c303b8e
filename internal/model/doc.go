// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// This package defines the core domain types shared by the session store,
// the conversation orchestrator and the HTTP API.
//
// # Key Types
//
//   - Session: One conversation thread with its transcript and personality
//   - Message: Single transcript entry with role, text and a sortable ID
//   - Role: Message role enumeration (user, assistant, system)
//
// # Usage
//
// Create a session and append a message:
//
//	sess := model.NewSession(time.Now())
//	sess.Messages = append(sess.Messages, model.NewUserMessage("Hello"))
//
// Sessions are plain values. Mutation with invariants lives in the session
// package; everything here is safe to copy.
package model
