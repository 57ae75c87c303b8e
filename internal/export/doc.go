// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes session transcripts to files.
//
// # Supported Formats
//
//   - Markdown: Human-readable, with YAML frontmatter
//   - JSON: The session exactly as it is persisted
//   - YAML: Same content as JSON, easier to read and diff
//
// # Usage
//
//	exporter, err := export.ForFormat("md", nil)
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(sess, exporter, &export.Options{OutputDir: "."})
package export
