// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the completion transport for the OpenAI chat completions
// API.
//
// A Client issues one streaming request per Send and hands back the open
// response body without buffering it. Decoding the body is the job of
// package stream.
//
// # Key Types
//
//   - Client: HTTP client for the chat completions endpoint
//   - ChatMessage: one {role, content} entry of the outbound history
//   - Params: model identifier, temperature and token limit
//   - Stream: the open response body plus its declared charset
//
// # Errors
//
// Failures are typed so callers can branch on them: AuthError, RateLimitError,
// ServiceError and NetworkError. Each Error() returns a sentence suitable for
// showing to the user. Classify maps any error to its Kind.
//
// # Usage
//
//	client := cloud.NewClient().WithLogger(logger)
//	st, err := client.Send(ctx, history, apiKey, cloud.DefaultParams())
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
// # Security
//
// The API key is sent only as a bearer token to the configured endpoint. It
// is never logged; KeyFingerprint gives a stable identifier for logs instead.
package cloud
