// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat core over a loopback HTTP API so a browser
// front end can drive it.
//
// # Endpoints
//
//   - GET    /api/sessions                 - List sessions and the active id
//   - POST   /api/sessions                 - Create a session (becomes active)
//   - GET    /api/sessions/{id}            - Session with transcript and state
//   - PATCH  /api/sessions/{id}            - Rename or set personality
//   - DELETE /api/sessions/{id}            - Delete, canceling any running send
//   - POST   /api/sessions/{id}/active     - Make a session active
//   - GET    /api/sessions/{id}/messages   - Transcript
//   - POST   /api/sessions/{id}/messages   - Send; replies as server-sent events
//   - DELETE /api/sessions/{id}/stream     - Cancel a running send
//   - GET    /api/settings, PUT /api/settings
//   - GET    /api/key, PUT /api/key, DELETE /api/key, POST /api/key/validate
//   - GET    /health, GET /metrics
//
// # Status codes
//
// Unknown session: 404. Session already sending: 409. Malformed body or
// invalid settings: 400. Client over its rate: 429.
//
// # Streaming
//
// A send answers with text/event-stream:
//
//	event: delta
//	data: {"text":"Hel"}
//
//	event: done
//	data: {"sessionId":"...","messages":[...]}
//
// A failed turn sends an "error" event ({"kind","message"}) before "done".
// The transcript already holds the error message by then.
package server
