// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/export"
)

// ExportResult is the `export --json` payload.
type ExportResult struct {
	SessionID string `json:"session_id"`
	Format    string `json:"format"`
	Path      string `json:"path,omitempty"`
	MimeType  string `json:"mime_type"`
}

func newExportCmd(a *app) *cobra.Command {
	var (
		format     string
		outputDir  string
		open       bool
		noMetadata bool
		toStdout   bool
	)
	cmd := &cobra.Command{
		Use:   "export [ID]",
		Short: "Export a session transcript (default: active session)",
		Example: `  rigrun-chat export --format md
  rigrun-chat export 3f2a9c1e --format json -o ~/exports
  rigrun-chat export --format yaml --stdout`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			id, err := a.resolveSession(firstArg(args))
			if err != nil {
				return err
			}
			sess, _ := a.sessions.Session(id)

			opts := export.DefaultOptions()
			opts.OpenAfterExport = open
			opts.IncludeMetadata = !noMetadata
			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return NewUsageError("format", format, "want one of: "+strings.Join(export.Formats, ", "))
			}

			result := ExportResult{SessionID: id, Format: format, MimeType: exporter.MimeType()}
			if toStdout {
				data, err := exporter.Export(sess)
				if err != nil {
					return err
				}
				_, err = a.out.Write(data)
				return err
			}

			dir, err := ValidateOutputPath(outputDir)
			if err != nil {
				return NewUsageError("output directory", outputDir, err.Error())
			}
			opts.OutputDir = dir

			path, err := export.ExportToFile(sess, exporter, opts)
			if err != nil {
				return err
			}
			result.Path = path
			return a.emit("export", result, func() {
				fmt.Fprintf(a.out, "%s Exported %q to %s\n", RenderStatus("ok"), sess.Name, path)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "Output format: "+strings.Join(export.Formats, ", "))
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to write the file to")
	cmd.Flags().BoolVar(&open, "open", false, "Open the file after exporting")
	cmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "Omit frontmatter and the session information block (md)")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "Write to stdout instead of a file")
	return quiet(cmd)
}
