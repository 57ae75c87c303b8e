// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the persistent store of chat sessions.
//
// The Store owns every session and its transcript, tracks which session is
// active, and writes the whole collection to the storage backend after each
// mutation so that state survives a restart.
//
// # Key Types
//
//   - Store: Concurrency-safe session collection with persisted mutations
//
// # Usage
//
// Load the store at startup (a default session is created on first run):
//
//	store, err := session.Load(ctx, backend, session.WithLogger(logger))
//
// Mutate through the store so invariants hold:
//
//	sess, err := store.CreateSession(ctx)
//	err = store.AppendMessage(ctx, sess.ID, model.NewUserMessage("Hello"))
//	err = store.AppendToLastMessage(ctx, sess.ID, "more text")
//
// # Invariants
//
// Transcripts are append-only. A session title is derived once, from its
// first user message. The active pointer never refers to a deleted session.
package session
