// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides keyed blob persistence for rigrun-chat.
//
// Each persisted record (transcripts, settings, credential) is one opaque
// blob under a fixed key, loaded whole and written whole. Callers own the
// encoding; this package only moves bytes.
//
// # Key Types
//
//   - Backend: Get/Put/Delete interface implemented by every store
//   - FileBackend: One JSON file per key, written atomically
//   - SQLiteBackend: One row per key in a single-table SQLite database
//
// # Usage
//
//	backend, err := storage.Open(storage.KindFile, dataDir)
//	err = backend.Put(ctx, storage.KeyChat, data)
//	data, err := backend.Get(ctx, storage.KeyChat)
//
// # Storage Location
//
// Blobs are stored in ~/.rigrun-chat/data/ by default.
package storage
