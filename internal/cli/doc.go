// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-chat command tree.
//
// Execute builds the cobra commands, runs the one named on the command line
// and maps its error to an exit status:
//
//	os.Exit(cli.Execute())
//
// # Commands
//
//   - chat: interactive REPL with line editing, input history and slash
//     commands (/new, /sessions, /switch, /rename, /personality, /delete)
//   - ask: one message, reply streamed to stdout
//   - sessions: list, new, show, rename, personality, delete, use
//   - key: set, clear, status, validate
//   - settings: show, set, reset
//   - export: write a transcript as Markdown, JSON or YAML
//   - serve: loopback HTTP API with SSE streaming and /metrics
//   - config: show, init, get, set, path
//
// Every command accepts --json for machine-readable output, wrapped in a
// JSONResponse envelope.
//
// Config and logging are set up before every command. Storage, the session
// and settings stores, the credential store, the transport and the
// orchestrator are opened only by commands that need them.
package cli
