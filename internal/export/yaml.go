// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// YAML EXPORTER
// =============================================================================

// YAMLExporter exports a session as a YAML document.
type YAMLExporter struct{}

// NewYAMLExporter creates a new YAML exporter.
func NewYAMLExporter() *YAMLExporter {
	return &YAMLExporter{}
}

type yamlSession struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Personality string        `yaml:"personality"`
	CreatedAt   time.Time     `yaml:"created_at"`
	Messages    []yamlMessage `yaml:"messages"`
}

type yamlMessage struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
	Text string `yaml:"text"`
}

// Export converts a session to YAML with two-space indentation.
func (e *YAMLExporter) Export(sess model.Session) ([]byte, error) {
	doc := yamlSession{
		ID:          sess.ID,
		Name:        sess.Name,
		Personality: sess.EffectivePersonality(),
		CreatedAt:   sess.Created().UTC(),
		Messages:    make([]yamlMessage, 0, len(sess.Messages)),
	}
	for _, m := range sess.Messages {
		doc.Messages = append(doc.Messages, yamlMessage{ID: m.ID, Role: m.Role.String(), Text: m.Text})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// FileExtension returns the file extension for YAML.
func (e *YAMLExporter) FileExtension() string {
	return ".yaml"
}

// MimeType returns the MIME type for YAML.
func (e *YAMLExporter) MimeType() string {
	return "application/yaml"
}
