// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/security"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// =============================================================================
// HARNESS
// =============================================================================

// harness runs the command tree against a temp home, a temp config file
// and a fake completions endpoint.
type harness struct {
	home       string
	configPath string
	upstream   *httptest.Server
	requests   atomic.Int32
}

func newHarness(t *testing.T, reply http.HandlerFunc) *harness {
	t.Helper()
	h := &harness{home: t.TempDir()}
	t.Setenv("RIGRUN_CHAT_HOME", h.home)
	t.Setenv(security.EnvAPIKey, "sk-test-key")
	for _, env := range []string{"RIGRUN_CHAT_BASE_URL", "RIGRUN_CHAT_DATA_DIR", "RIGRUN_CHAT_STORAGE", "RIGRUN_CHAT_LOG_LEVEL"} {
		t.Setenv(env, "")
	}

	if reply == nil {
		reply = sseReply("Hello", ", world")
	}
	h.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.requests.Add(1)
		reply(w, r)
	}))
	t.Cleanup(h.upstream.Close)

	cfg := config.Default()
	cfg.API.BaseURL = h.upstream.URL
	cfg.Storage.DataDir = filepath.Join(h.home, "data")
	h.configPath = filepath.Join(h.home, "config.toml")
	require.NoError(t, config.SaveTOML(cfg, h.configPath))
	return h
}

// run executes one command line and returns stdout, stderr and the error.
func (h *harness) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(stdin), &out, &errOut)
	a.interactive = func() bool { return false }
	a.credOpts = []security.CredentialOption{security.WithIterations(1000)}

	root := newRootCmd(a)
	root.SetArgs(append([]string{"--config", h.configPath, "--no-color"}, args...))
	err := root.ExecuteContext(context.Background())
	require.NoError(t, a.close())
	return out.String(), errOut.String(), err
}

func sseReply(parts ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range parts {
			b, _ := json.Marshal(map[string]any{
				"choices": []any{map[string]any{"delta": map[string]string{"content": p}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
	Command string          `json:"command"`
}

func decodeEnvelope[T any](t *testing.T, out string) T {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	require.True(t, env.Success, out)
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestVersionJSON(t *testing.T) {
	h := newHarness(t, nil)
	out, _, err := h.run(t, "", "version", "--json")
	require.NoError(t, err)

	info := decodeEnvelope[VersionInfo](t, out)
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestSessions_NewAndList(t *testing.T) {
	h := newHarness(t, nil)

	out, _, err := h.run(t, "", "sessions", "new", "--name", "Go questions", "--personality", "Be brief.", "--json")
	require.NoError(t, err)
	created := decodeEnvelope[SessionInfo](t, out)
	assert.Equal(t, "Go questions", created.Name)
	assert.Equal(t, "Be brief.", created.Personality)
	assert.True(t, created.Active)

	out, _, err = h.run(t, "", "sessions", "list", "--json")
	require.NoError(t, err)
	list := decodeEnvelope[[]SessionInfo](t, out)
	require.Len(t, list, 2, "first run seeds a default session")
	assert.False(t, list[0].Active)
	assert.Equal(t, created.ID, list[1].ID)
	assert.True(t, list[1].Active)

	out, _, err = h.run(t, "", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "Go questions")
	assert.Contains(t, out, shortID(created.ID))
}

func TestSessions_RenameUseDelete(t *testing.T) {
	h := newHarness(t, nil)

	out, _, err := h.run(t, "", "sessions", "list", "--json")
	require.NoError(t, err)
	first := decodeEnvelope[[]SessionInfo](t, out)[0]

	out, _, err = h.run(t, "", "sessions", "new", "--json")
	require.NoError(t, err)
	second := decodeEnvelope[SessionInfo](t, out)

	_, _, err = h.run(t, "", "sessions", "rename", shortID(first.ID), "Renamed", "session")
	require.NoError(t, err)

	out, _, err = h.run(t, "", "sessions", "use", shortID(first.ID), "--json")
	require.NoError(t, err)
	used := decodeEnvelope[SessionInfo](t, out)
	assert.Equal(t, "Renamed session", used.Name)
	assert.True(t, used.Active)

	// Without --yes a non-interactive delete is refused.
	_, _, err = h.run(t, "", "sessions", "delete", second.ID)
	require.ErrorIs(t, err, ErrConfirmationRequired)

	out, _, err = h.run(t, "", "sessions", "delete", second.ID, "--yes", "--json")
	require.NoError(t, err)
	deleted := decodeEnvelope[map[string]string](t, out)
	assert.Equal(t, second.ID, deleted["deleted"])
	assert.Equal(t, first.ID, deleted["active"])

	_, _, err = h.run(t, "", "sessions", "show", second.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
	assert.Equal(t, ExitNotFound, GetExitCode(err))
}

func TestAsk_StreamsAndRecords(t *testing.T) {
	h := newHarness(t, nil)

	out, _, err := h.run(t, "", "ask", "say", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world\n", out)
	assert.Equal(t, int32(1), h.requests.Load())

	out, _, err = h.run(t, "", "sessions", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "say hello")
	assert.Contains(t, out, "Hello, world")
}

func TestAsk_JSONFromStdin(t *testing.T) {
	h := newHarness(t, nil)

	out, _, err := h.run(t, "what is a channel?\n", "ask", "--new", "--json")
	require.NoError(t, err)
	result := decodeEnvelope[AskResult](t, out)
	assert.Equal(t, "Hello, world", result.Reply)
	assert.False(t, result.Canceled)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, model.RoleUser, result.Messages[0].Role)
	assert.Equal(t, "what is a channel?\n", result.Messages[0].Text)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.run(t, "  \n", "ask")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
	assert.Zero(t, h.requests.Load())
}

func TestAsk_AuthFailureIsRecorded(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key"}}`)
	})

	_, _, err := h.run(t, "", "ask", "hello")
	require.Error(t, err)
	assert.Equal(t, ExitAuthError, GetExitCode(err))

	out, _, err := h.run(t, "", "sessions", "show", "--json")
	require.NoError(t, err)
	sess := decodeEnvelope[model.Session](t, out)
	require.Len(t, sess.Messages, 2)
	assert.True(t, sess.Messages[1].IsError())
}

func TestKeyStatus_Env(t *testing.T) {
	h := newHarness(t, nil)
	out, _, err := h.run(t, "", "key", "status", "--json")
	require.NoError(t, err)
	status := decodeEnvelope[security.Status](t, out)
	assert.Equal(t, security.SourceEnv, status.Source)
	assert.Equal(t, len("sk-test-key"), status.Length)
}

func TestKeySetAndClear(t *testing.T) {
	h := newHarness(t, nil)
	t.Setenv(security.EnvAPIKey, "")

	out, _, err := h.run(t, "", "key", "status", "--json")
	require.NoError(t, err)
	assert.Equal(t, security.SourceNone, decodeEnvelope[security.Status](t, out).Source)

	_, _, err = h.run(t, "", "key", "validate")
	require.Error(t, err)
	assert.Equal(t, ExitAuthError, GetExitCode(err))

	out, _, err = h.run(t, "sk-piped-key\n", "key", "set", "--json")
	require.NoError(t, err)
	status := decodeEnvelope[security.Status](t, out)
	assert.Equal(t, security.SourceStored, status.Source)
	assert.Equal(t, cloud.KeyFingerprint("sk-piped-key"), status.Fingerprint)

	_, _, err = h.run(t, "", "key", "set")
	require.ErrorIs(t, err, security.ErrEmptyKey)

	_, _, err = h.run(t, "", "key", "clear", "-y")
	require.NoError(t, err)
	out, _, err = h.run(t, "", "key", "status", "--json")
	require.NoError(t, err)
	assert.Equal(t, security.SourceNone, decodeEnvelope[security.Status](t, out).Source)
}

func TestSettings_SetAndReset(t *testing.T) {
	h := newHarness(t, nil)

	_, _, err := h.run(t, "", "settings", "set", "defaultTemperature", "0.2")
	require.NoError(t, err)
	out, _, err := h.run(t, "", "settings", "show", "--json")
	require.NoError(t, err)
	s := decodeEnvelope[config.Settings](t, out)
	assert.InDelta(t, 0.2, s.DefaultTemperature, 1e-9)

	_, _, err = h.run(t, "", "settings", "set", "defaultTemperature", "7")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, _, err = h.run(t, "", "settings", "reset", "--yes")
	require.NoError(t, err)
	out, _, err = h.run(t, "", "settings", "--json")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSettings(), decodeEnvelope[config.Settings](t, out))
}

func TestConfig_GetSetInit(t *testing.T) {
	h := newHarness(t, nil)

	out, _, err := h.run(t, "", "config", "get", "api.base_url")
	require.NoError(t, err)
	assert.Equal(t, h.upstream.URL+"\n", out)

	_, _, err = h.run(t, "", "config", "set", "server.addr", "127.0.0.1:9999")
	require.NoError(t, err)
	cfg, err := config.LoadFromPath(h.configPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, h.upstream.URL, cfg.API.BaseURL, "other values are kept")

	_, _, err = h.run(t, "", "config", "set", "no.such.key", "x")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, _, err = h.run(t, "", "config", "init")
	require.Error(t, err, "init refuses to overwrite")
	_, _, err = h.run(t, "", "config", "init", "--force")
	require.NoError(t, err)
	cfg, err = config.LoadFromPath(h.configPath)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.Addr, cfg.Server.Addr)
}

func TestExport_Stdout(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.run(t, "", "ask", "export me")
	require.NoError(t, err)

	out, _, err := h.run(t, "", "export", "--format", "md", "--stdout")
	require.NoError(t, err)
	assert.Contains(t, out, "export me")
	assert.Contains(t, out, "Hello, world")
}

// =============================================================================
// REPL
// =============================================================================

// scriptedLines feeds the REPL a fixed script, then io.EOF.
type scriptedLines struct {
	lines   []string
	history []string
}

func (s *scriptedLines) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedLines) AppendHistory(item string) { s.history = append(s.history, item) }

// openApp builds an opened app for driving the REPL directly.
func openApp(t *testing.T, h *harness) (*app, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(""), &out, &errOut)
	a.interactive = func() bool { return false }
	a.configPath = h.configPath
	a.credOpts = []security.CredentialOption{security.WithIterations(1000)}
	require.NoError(t, a.setup(true))
	require.NoError(t, a.open(context.Background()))
	t.Cleanup(func() { _ = a.close() })
	return a, &out, &errOut
}

func TestREPL_SendAndSlashCommands(t *testing.T) {
	h := newHarness(t, nil)
	a, out, errOut := openApp(t, h)
	start := a.sessions.ActiveID()

	lines := &scriptedLines{lines: []string{
		"hi there",
		"/rename Pairing",
		"/personality Answer in haiku.",
		"/new Second",
		"/bogus",
		"/quit",
		"never read",
	}}
	r := &repl{app: a, line: lines, sessionID: start}
	require.NoError(t, r.run(context.Background()))

	assert.Len(t, lines.lines, 1, "/quit ends the loop")
	assert.Contains(t, out.String(), "Hello, world")
	assert.Contains(t, errOut.String(), "unknown command: /bogus")

	first, ok := a.sessions.Session(start)
	require.True(t, ok)
	assert.Equal(t, "Pairing", first.Name)
	assert.Equal(t, "Answer in haiku.", first.Personality)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, "Hello, world", first.Messages[1].Text)

	assert.NotEqual(t, start, r.current())
	second, ok := a.sessions.Session(r.current())
	require.True(t, ok)
	assert.Equal(t, "Second", second.Name)
}

func TestREPL_DeleteLastSessionCreatesOne(t *testing.T) {
	h := newHarness(t, nil)
	a, _, _ := openApp(t, h)
	start := a.sessions.ActiveID()

	lines := &scriptedLines{lines: []string{"y"}}
	r := &repl{app: a, line: lines, sessionID: start}
	cont, err := r.handleSlashCommand(context.Background(), "/delete")
	require.NoError(t, err)
	assert.True(t, cont)

	_, ok := a.sessions.Session(start)
	assert.False(t, ok)
	assert.Equal(t, 1, a.sessions.Len())
	assert.Equal(t, a.sessions.ActiveID(), r.current())
}

func TestREPL_DeclinedDeleteKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	a, out, _ := openApp(t, h)
	start := a.sessions.ActiveID()

	r := &repl{app: a, line: &scriptedLines{lines: []string{"n"}}, sessionID: start}
	_, err := r.handleSlashCommand(context.Background(), "/delete")
	require.NoError(t, err)
	_, ok := a.sessions.Session(start)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "Cancelled.")
}

func TestREPL_SwitchByPrefix(t *testing.T) {
	h := newHarness(t, nil)
	a, _, _ := openApp(t, h)
	start := a.sessions.ActiveID()
	other, err := a.sessions.CreateSession(context.Background())
	require.NoError(t, err)

	r := &repl{app: a, line: &scriptedLines{}, sessionID: other.ID}
	_, err = r.handleSlashCommand(context.Background(), "/switch "+start[:13])
	require.NoError(t, err)
	assert.Equal(t, start, r.current())
	assert.Equal(t, start, a.sessions.ActiveID())

	_, err = r.handleSlashCommand(context.Background(), "/switch")
	require.Error(t, err)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestMatchSessionPrefix(t *testing.T) {
	sessions := []model.Session{
		{ID: "abc123"},
		{ID: "abd456"},
		{ID: "xyz789"},
	}

	id, err := matchSessionPrefix(sessions, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	_, err = matchSessionPrefix(sessions, "ab")
	var usage *UsageError
	require.ErrorAs(t, err, &usage)

	_, err = matchSessionPrefix(sessions, "q")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", NewUsageError("flag", "x", "bad"), ExitUsageError},
		{"config", config.ValidateErrors{{Field: "api.base_url", Message: "required"}}, ExitConfigError},
		{"not found", fmt.Errorf("wrap: %w", session.ErrNotFound), ExitNotFound},
		{"no credential", security.ErrNoCredential, ExitAuthError},
		{"canceled", context.Canceled, ExitInterrupted},
		{"auth", &cloud.AuthError{Missing: true}, ExitAuthError},
		{"rate limit", &cloud.RateLimitError{}, ExitRateLimited},
		{"service", &cloud.ServiceError{Message: "overloaded"}, ExitNetworkError},
		{"network", &cloud.NetworkError{Err: errors.New("refused")}, ExitNetworkError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError_JSON(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, &cloud.AuthError{Missing: true}, true)

	var env envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.JSONEq(t, `{"error_type":"auth"}`, string(env.Data))
}

func TestRequireConfirmation(t *testing.T) {
	var out bytes.Buffer

	ok, err := RequireConfirmation(strings.NewReader(""), &out, "x", ConfirmationOptions{Yes: true})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = RequireConfirmation(strings.NewReader("y\n"), &out, "x", ConfirmationOptions{JSONMode: true, Interactive: true})
	require.ErrorIs(t, err, ErrConfirmationRequired)

	_, err = RequireConfirmation(strings.NewReader("y\n"), &out, "x", ConfirmationOptions{})
	require.ErrorIs(t, err, ErrConfirmationRequired)

	ok, err = RequireConfirmation(strings.NewReader("YES\n"), &out, "delete it", ConfirmationOptions{Interactive: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "delete it?")

	ok, err = RequireConfirmation(strings.NewReader("\n"), &out, "x", ConfirmationOptions{Interactive: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveDark(t *testing.T) {
	detected := func() bool { return false }
	assert.False(t, ResolveDark(config.ThemeLight, detected))
	assert.True(t, ResolveDark(config.ThemeDark, detected))
	assert.False(t, ResolveDark(config.ThemeSystem, detected))
	assert.True(t, ResolveDark(config.ThemeSystem, nil))
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "short", WrapText("short", 40))
	assert.Equal(t, "one two\nthree", WrapText("one two three", 12))
	assert.Equal(t, "keep\n\nlines", WrapText("keep\n\nlines", 40))

	for _, line := range strings.Split(WrapText(strings.Repeat("word ", 40), 30), "\n") {
		assert.LessOrEqual(t, len(line), 28)
	}
}

func TestRenderSessionTable(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := []model.Session{
		{ID: "11111111-aaaa", Name: "First", CreatedAt: now.Add(-2 * time.Hour).UnixMilli()},
		{ID: "22222222-bbbb", Name: "Second\nline", CreatedAt: now.Add(-5 * time.Minute).UnixMilli(),
			Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}},
	}

	var buf bytes.Buffer
	renderSessionTable(&buf, sessions, "22222222-bbbb", now, 80)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.True(t, strings.HasPrefix(lines[1], "  11111111"))
	assert.Contains(t, lines[2], "*")
	assert.Contains(t, lines[2], "Second line")
	assert.Contains(t, lines[2], "5m ago")

	buf.Reset()
	renderSessionTable(&buf, nil, "", now, 80)
	assert.Contains(t, buf.String(), "No sessions.")
}

func TestValidateOutputPath(t *testing.T) {
	_, err := ValidateOutputPath("../escape.md")
	require.Error(t, err)

	p, err := ValidateOutputPath(filepath.Join(os.TempDir(), "out.md"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p))

	assert.True(t, isPathWithinDir("/home/user/x", "/home/user"))
	assert.False(t, isPathWithinDir("/home/userEVIL/x", "/home/user"))
}
