// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
)

// =============================================================================
// LOGGER TESTS
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")
	logger.Debug("hidden")
	logger.Info("hello", "session_id", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug must be filtered at info level")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "abc", rec["session_id"])
	assert.Equal(t, "rigrun-chat", rec["app"])
}

func TestNewLogger_TextFallback(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelDebug, "bogus").Debug("plain", "k", "v")
	assert.Contains(t, buf.String(), "msg=plain")
	assert.Contains(t, buf.String(), "k=v")
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chat.log")
	logger, closer, err := Setup(config.LoggingConfig{Level: "warn", Format: "json", File: path}, io.Discard, nil)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestSetup_Errors(t *testing.T) {
	_, closer, err := Setup(config.LoggingConfig{Level: "loud"}, io.Discard, nil)
	require.Error(t, err)
	require.NotNil(t, closer)

	logger, closer, err := Setup(config.LoggingConfig{}, io.Discard, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NoError(t, closer.Close())
}

func TestSetup_LevelVar(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	logger, _, err := Setup(config.LoggingConfig{Level: "error"}, &buf, lv)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, lv.Level())

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	lv.Set(slog.LevelInfo)
	logger.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

// =============================================================================
// METRICS TESTS
// =============================================================================

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func turn(m *Metrics, id string, steps ...chat.Transition) {
	for _, s := range steps {
		s.SessionID = id
		m.Observe(s)
	}
}

func TestMetrics_Turns(t *testing.T) {
	m := NewMetrics()
	clock := time.Unix(0, 0)
	m.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	turn(m, "a",
		chat.Transition{From: chat.StateIdle, To: chat.StateSending},
		chat.Transition{From: chat.StateSending, To: chat.StateStreaming},
		chat.Transition{From: chat.StateStreaming, To: chat.StateIdle},
	)
	turn(m, "b",
		chat.Transition{From: chat.StateIdle, To: chat.StateSending},
		chat.Transition{From: chat.StateSending, To: chat.StateError, Err: &cloud.AuthError{Status: 401}},
		chat.Transition{From: chat.StateError, To: chat.StateIdle},
	)
	turn(m, "c",
		chat.Transition{From: chat.StateIdle, To: chat.StateSending},
		chat.Transition{From: chat.StateSending, To: chat.StateStreaming},
		chat.Transition{From: chat.StateStreaming, To: chat.StateError, Err: &cloud.NetworkError{Err: errors.New("reset")}},
		chat.Transition{From: chat.StateError, To: chat.StateIdle},
	)

	out := scrape(t, m)
	assert.Contains(t, out, `rigrun_chat_sends_total{outcome="ok"} 1`)
	assert.Contains(t, out, `rigrun_chat_sends_total{outcome="auth"} 1`)
	assert.Contains(t, out, `rigrun_chat_sends_total{outcome="network"} 1`)
	assert.Contains(t, out, `rigrun_chat_sends_in_flight 0`)
	assert.Contains(t, out, `rigrun_chat_turn_duration_seconds_count 3`)
	assert.Contains(t, out, `rigrun_chat_state_transitions_total{from="idle",to="sending"} 3`)
}

func TestMetrics_InFlight(t *testing.T) {
	m := NewMetrics()
	turn(m, "a", chat.Transition{From: chat.StateIdle, To: chat.StateSending})
	turn(m, "b", chat.Transition{From: chat.StateIdle, To: chat.StateSending})
	assert.Contains(t, scrape(t, m), `rigrun_chat_sends_in_flight 2`)

	// An Idle without a matching start is ignored.
	turn(m, "zzz", chat.Transition{From: chat.StateError, To: chat.StateIdle})
	assert.Contains(t, scrape(t, m), `rigrun_chat_sends_in_flight 2`)
}

func TestMetrics_HTTP(t *testing.T) {
	m := NewMetrics()
	m.ObserveHTTP(http.MethodGet, "GET /api/sessions", http.StatusOK, 10*time.Millisecond)
	m.ObserveHTTP(http.MethodPost, "POST /api/sessions/{id}/messages", http.StatusConflict, time.Millisecond)

	out := scrape(t, m)
	assert.Contains(t, out, `rigrun_chat_http_requests_total{method="GET",route="GET /api/sessions",status="200"} 1`)
	assert.Contains(t, out, `status="409"`)
	assert.Contains(t, out, "go_goroutines")
}
