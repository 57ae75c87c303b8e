// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// STORAGE KEYS
// =============================================================================

// Fixed keys for the records the application persists.
const (
	KeyChat       = "chat-storage"
	KeySettings   = "settings-storage"
	KeyCredential = "openai-api-key"
)

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend stores opaque blobs under string keys.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put durably replaces the blob stored under key.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the backend.
	Close() error
}

// Kind names a Backend implementation in configuration.
type Kind string

const (
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
)

// ErrNotFound is returned by Get when no blob exists for the key.
var ErrNotFound = errors.New("storage: key not found")

// ErrInvalidKey is returned for keys that cannot be mapped to a file name.
var ErrInvalidKey = errors.New("storage: invalid key")

// Open creates the backend named by kind rooted at dir.
func Open(kind Kind, dir string) (Backend, error) {
	switch kind {
	case KindFile, "":
		return NewFileBackend(dir)
	case KindSQLite:
		return NewSQLiteBackend(dir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want %q or %q)", kind, KindFile, KindSQLite)
	}
}

// validateKey rejects keys that could escape the data directory.
func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\:`) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
