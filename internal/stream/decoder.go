// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	dataPrefix = "data:"
	doneToken  = "[DONE]"
)

// frame is the subset of a completion chunk the decoder reads.
type frame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder is the push form of the stream decoder. The zero value is ready to
// use. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf  []byte // bytes after the last newline
	done bool
}

// Feed appends chunk and returns the events of every line it completed, in
// order. Once [DONE] has been seen, Feed returns nil.
//
// Splitting happens on raw bytes. A newline byte never occurs inside a
// multi-byte UTF-8 sequence, so a character split across chunks is
// reassembled before its line is parsed.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]

		ev, ok := decodeLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if _, end := ev.(StreamEnded); end {
			d.done = true
			d.buf = nil
			break
		}
	}

	// Drop consumed capacity once the buffer drains.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// End closes the decoder and returns the final event. err is the read error
// that ended the source, or nil for a clean close. A dangling partial line is
// discarded. After [DONE], End reports a clean end regardless of err.
func (d *Decoder) End(err error) Event {
	d.buf = nil
	if d.done {
		return StreamEnded{}
	}
	d.done = true
	return StreamEnded{Err: err}
}

// Done reports whether the stream has ended.
func (d *Decoder) Done() bool {
	return d.done
}

// Pending returns the number of buffered bytes not yet terminated by a
// newline.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// decodeLine turns one complete line into an event. ok is false for lines
// that produce nothing: blanks, and frames without content.
func decodeLine(line string) (Event, bool) {
	payload := strings.TrimSpace(line)
	if rest, found := strings.CutPrefix(payload, dataPrefix); found {
		payload = strings.TrimSpace(rest)
	}

	switch payload {
	case "":
		return nil, false
	case doneToken:
		return StreamEnded{}, true
	}

	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return ParseSkipped{Line: line, Err: err}, true
	}
	if len(f.Choices) == 0 || f.Choices[0].Delta.Content == "" {
		return nil, false
	}
	return TextIncrement{Text: f.Choices[0].Delta.Content}, true
}
