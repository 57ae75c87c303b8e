// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func sampleSession() model.Session {
	return model.Session{
		ID:          "6f1c2a9e-0000-4000-8000-000000000001",
		Name:        "Plan a trip",
		Personality: "You are a travel agent.",
		CreatedAt:   fixedNow.Add(-time.Hour).UnixMilli(),
		Messages: []model.Message{
			{ID: "01A", Role: model.RoleUser, Text: "Where should I go?"},
			{ID: "01B", Role: model.RoleAssistant, Text: "Try **Lisbon**."},
			{ID: "01C", Role: model.RoleUser, Text: "And then?"},
			{ID: "01D", Role: model.RoleAssistant, Text: model.ErrorPrefix + "Rate limit exceeded.\nRetry later."},
		},
	}
}

func testOptions(dir string) *Options {
	return &Options{OutputDir: dir, IncludeMetadata: true, Now: func() time.Time { return fixedNow }}
}

// =============================================================================
// MARKDOWN TESTS
// =============================================================================

func TestMarkdownExporter_Structure(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions("")).Export(sampleSession())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	result := string(out)

	for _, want := range []string{
		"---\ntitle: Plan a trip\n",
		"messages: 4\n",
		"# Plan a trip\n",
		"- **Personality**: You are a travel agent.\n",
		"### You\n\nWhere should I go?",
		"### Assistant\n\nTry **Lisbon**.",
		"> " + model.ErrorPrefix + "Rate limit exceeded.\n> Retry later.",
		"*Exported from rigrun-chat on March 14, 2025 at 3:09 PM*",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("output missing %q\n%s", want, result)
		}
	}
}

func TestMarkdownExporter_FrontmatterInjection(t *testing.T) {
	sess := sampleSession()
	sess.Name = "Test\nInjection: malicious"

	out, err := NewMarkdownExporter(testOptions("")).Export(sess)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	parts := strings.SplitN(string(out), "---\n", 3)
	if len(parts) < 3 {
		t.Fatalf("no frontmatter in output:\n%s", out)
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		t.Fatalf("frontmatter is not valid YAML: %v", err)
	}
	if _, injected := fm["Injection"]; injected {
		t.Error("newline in title injected a frontmatter key")
	}
	if fm["title"] != sess.Name {
		t.Errorf("title = %q, want %q", fm["title"], sess.Name)
	}
	if !strings.Contains(string(out), "# Test Injection: malicious\n") {
		t.Error("heading should flatten newlines")
	}
}

func TestMarkdownExporter_EmptyAndPlaceholder(t *testing.T) {
	sess := sampleSession()
	sess.Messages = nil
	if _, err := NewMarkdownExporter(nil).Export(sess); !errors.Is(err, ErrEmptySession) {
		t.Errorf("Export(empty) error = %v, want ErrEmptySession", err)
	}

	sess.Messages = []model.Message{{ID: "1", Role: model.RoleAssistant, Text: ""}}
	out, err := NewMarkdownExporter(&Options{}).Export(sess)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.Contains(string(out), "*(no response)*") {
		t.Error("empty placeholder should be rendered")
	}
	if strings.HasPrefix(string(out), "---") {
		t.Error("frontmatter written without IncludeMetadata")
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("#1 *bold* _x_ [y]"); got != `\#1 \*bold\* \_x\_ \[y\]` {
		t.Errorf("escapeMarkdown() = %q", got)
	}
}

// =============================================================================
// JSON AND YAML TESTS
// =============================================================================

func TestJSONExporter_PersistedShape(t *testing.T) {
	sess := sampleSession()
	out, err := NewJSONExporter().Export(sess)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(out, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"id", "name", "messages", "personality", "isTitleGenerated", "createdAt"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}

	var back model.Session
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(back.Messages) != 4 || back.Messages[1].Text != "Try **Lisbon**." {
		t.Errorf("messages not preserved: %+v", back.Messages)
	}

	sess.Messages = nil
	out, err = NewJSONExporter().Export(sess)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.Contains(string(out), `"messages": []`) {
		t.Error("nil messages should export as []")
	}
}

func TestYAMLExporter(t *testing.T) {
	out, err := NewYAMLExporter().Export(sampleSession())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var doc yamlSession
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, out)
	}
	if doc.Name != "Plan a trip" || len(doc.Messages) != 4 {
		t.Errorf("unexpected document: %+v", doc)
	}
	if doc.Messages[3].Text != model.ErrorPrefix+"Rate limit exceeded.\nRetry later." {
		t.Errorf("multi-line text not preserved: %q", doc.Messages[3].Text)
	}
	if !doc.CreatedAt.Equal(fixedNow.Add(-time.Hour)) {
		t.Errorf("created_at = %v", doc.CreatedAt)
	}
}

// =============================================================================
// FILE OUTPUT TESTS
// =============================================================================

func TestForFormat(t *testing.T) {
	tests := []struct {
		format string
		ext    string
	}{
		{"md", ".md"},
		{"Markdown", ".md"},
		{"json", ".json"},
		{"yaml", ".yaml"},
		{"yml", ".yaml"},
	}
	for _, tt := range tests {
		e, err := ForFormat(tt.format, nil)
		if err != nil {
			t.Errorf("ForFormat(%q) error: %v", tt.format, err)
			continue
		}
		if e.FileExtension() != tt.ext {
			t.Errorf("ForFormat(%q).FileExtension() = %q, want %q", tt.format, e.FileExtension(), tt.ext)
		}
	}
	if _, err := ForFormat("html", nil); err == nil {
		t.Error("ForFormat(html) should fail")
	}
}

func TestExportToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	opts := testOptions(dir)

	path, err := ExportToFile(sampleSession(), NewYAMLExporter(), opts)
	if err != nil {
		t.Fatalf("ExportToFile failed: %v", err)
	}
	if want := filepath.Join(dir, "chat_Plan_a_trip_20250314_150926.yaml"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	empty := sampleSession()
	empty.Messages = nil
	if _, err := ExportToFile(empty, NewMarkdownExporter(opts), opts); !errors.Is(err, ErrEmptySession) {
		t.Errorf("ExportToFile(empty) error = %v, want ErrEmptySession", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Plan a trip", "Plan_a_trip"},
		{`a/b\c:d*e?f"g<h>i|j`, "a-b-c-d-e-f-g-h-i-j"},
		{"tab\there", "tab_here"},
		{"bell\x07", "bell-"},
		{"", "session"},
		{"...", "session"},
		{strings.Repeat("é", 60), strings.Repeat("é", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
