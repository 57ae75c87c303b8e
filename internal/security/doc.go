// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security stores the completion API key encrypted at rest.
//
// Values are sealed with AES-256-GCM under a key derived by PBKDF2-SHA-256
// and stored as "ENC:" followed by base64(nonce|ciphertext|tag). The
// RIGRUN_CHAT_API_KEY environment variable takes precedence over the stored
// key and is never written anywhere.
package security
