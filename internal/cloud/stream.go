// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"io"
	"mime"
	"net/http"
	"strings"
)

// Stream is an open completion response. Reads come straight from the
// connection; nothing is buffered here.
type Stream struct {
	body       io.ReadCloser
	charset    string
	statusCode int
}

func newStream(resp *http.Response) *Stream {
	return &Stream{
		body:       resp.Body,
		charset:    charsetOf(resp.Header.Get("Content-Type")),
		statusCode: resp.StatusCode,
	}
}

// NewStream wraps an arbitrary body, for callers that produce streams
// without an HTTP round trip.
func NewStream(body io.ReadCloser, charset string) *Stream {
	return &Stream{body: body, charset: charset, statusCode: http.StatusOK}
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// Charset is the charset declared by the response Content-Type, lowercased.
// Empty means UTF-8.
func (s *Stream) Charset() string {
	return s.charset
}

// StatusCode is the HTTP status of the response.
func (s *Stream) StatusCode() int {
	return s.statusCode
}

// charsetOf extracts the charset parameter of a Content-Type value.
func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}
