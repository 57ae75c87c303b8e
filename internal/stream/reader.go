// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// ChunkSize is the largest read the Reader issues.
const ChunkSize = 4096

// Reader is the pull form of the decoder over an io.Reader.
type Reader struct {
	src     io.Reader
	dec     Decoder
	chunk   []byte
	pending []Event
	end     *StreamEnded
}

// NewReader returns a Reader over r. charset is the upstream's declared
// charset; anything other than empty or UTF-8 is transcoded to UTF-8 first.
// Unknown charsets are read as UTF-8.
func NewReader(r io.Reader, charset string) *Reader {
	return &Reader{
		src:   transcode(r, charset),
		chunk: make([]byte, ChunkSize),
	}
}

// transcode wraps r in a decoder for charset. The transformer keeps partial
// multi-byte sequences until the next read completes them.
func transcode(r io.Reader, charset string) io.Reader {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return r
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return r
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return r
	}
	return transform.NewReader(r, enc.NewDecoder())
}

// Next blocks until the next event. After a StreamEnded, every call returns
// that same StreamEnded without reading.
func (r *Reader) Next() Event {
	for {
		if r.end != nil {
			return *r.end
		}
		if len(r.pending) > 0 {
			ev := r.pending[0]
			r.pending = r.pending[1:]
			if end, ok := ev.(StreamEnded); ok {
				r.end = &end
				r.pending = nil
			}
			return ev
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.pending = r.dec.Feed(r.chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			r.pending = append(r.pending, r.dec.End(err))
		}
	}
}

// Each reads r to the end and calls fn for every TextIncrement and
// ParseSkipped, in order. It returns the stream's terminal error, fn's first
// error, or ctx's error if ctx is done between events.
//
// A blocked read is only interrupted when r itself observes cancellation,
// as an HTTP response body does for its request context.
func Each(ctx context.Context, r io.Reader, charset string, fn func(Event) error) error {
	sr := NewReader(r, charset)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := sr.Next()
		if end, ok := ev.(StreamEnded); ok {
			if end.Err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return end.Err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
