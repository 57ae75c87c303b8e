// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the line-delimited event stream of a chat
// completion into text increments.
//
// Bytes accumulate until a newline completes a line. Only complete lines are
// parsed, so the output does not depend on how the input was chunked. Each
// line may carry a "data: " prefix; its payload is either a JSON frame
// holding choices[0].delta.content or the terminator [DONE].
//
// Decoder is the push form (Feed chunks, then End). Reader is the pull form
// over an io.Reader, and Each drives a Reader to completion.
package stream
