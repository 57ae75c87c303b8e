// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/security"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the loopback listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize bounds JSON request bodies.
	MaxRequestBodySize = 1 << 20

	// Version is reported by /health.
	Version = "0.3.0"
)

// KeyValidator probes an API key upstream.
type KeyValidator interface {
	ValidateKey(ctx context.Context, apiKey string) error
}

// Deps are the components the API serves. Credentials, Validator and Metrics
// may be nil; their endpoints then answer 404.
type Deps struct {
	Sessions    *session.Store
	Chat        *chat.Orchestrator
	Settings    *config.SettingsStore
	Credentials *security.CredentialStore
	Validator   KeyValidator
	Metrics     *telemetry.Metrics
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the loopback HTTP API used by a browser front end.
type Server struct {
	addr    string
	cfg     config.ServerConfig
	deps    Deps
	logger  *slog.Logger
	started time.Time

	router  *http.ServeMux
	handler http.Handler
	server  *http.Server
}

// NewServer creates a Server. An empty cfg.Addr means DefaultAddr.
func NewServer(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		addr:    addr,
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("component", "server"),
		started: time.Now(),
		router:  http.NewServeMux(),
	}
	s.setupRoutes()

	cors := DefaultCORSConfig()
	if len(cfg.CORSOrigins) > 0 {
		cors.AllowedOrigins = cfg.CORSOrigins
	}
	s.handler = Chain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger, deps.Metrics),
		CORSMiddleware(cors),
		RateLimitMiddleware(NewRateLimiter(cfg.RateLimit, cfg.RateBurst), s.logger),
	)(s.router)
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.router.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.router.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.router.HandleFunc("PATCH /api/sessions/{id}", s.handleUpdateSession)
	s.router.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.router.HandleFunc("POST /api/sessions/{id}/active", s.handleSetActive)
	s.router.HandleFunc("GET /api/sessions/{id}/messages", s.handleGetMessages)
	s.router.HandleFunc("POST /api/sessions/{id}/messages", s.handleSendMessage)
	s.router.HandleFunc("DELETE /api/sessions/{id}/stream", s.handleCancel)

	s.router.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.router.HandleFunc("PUT /api/settings", s.handlePutSettings)

	if s.deps.Credentials != nil {
		s.router.HandleFunc("GET /api/key", s.handleKeyStatus)
		s.router.HandleFunc("PUT /api/key", s.handleSetKey)
		s.router.HandleFunc("DELETE /api/key", s.handleClearKey)
		if s.deps.Validator != nil {
			s.router.HandleFunc("POST /api/key/validate", s.handleValidateKey)
		}
	}

	s.router.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
}

// ============================================================================
// API TYPES
// ============================================================================

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	CreatedAt        int64  `json:"createdAt"`
	IsTitleGenerated bool   `json:"isTitleGenerated"`
	MessageCount     int    `json:"messageCount"`
	State            string `json:"state"`
}

// SessionList is the GET /api/sessions response.
type SessionList struct {
	Sessions        []SessionSummary `json:"sessions"`
	ActiveSessionID *string          `json:"activeSessionId"`
}

// SessionDetail is a full session plus its send state.
type SessionDetail struct {
	model.Session
	State string `json:"state"`
}

// UpdateSessionRequest is the PATCH body. Absent fields are left alone.
type UpdateSessionRequest struct {
	Name        *string `json:"name"`
	Personality *string `json:"personality"`
}

// SendMessageRequest is the POST /messages body.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// DeltaEvent is sent for each streamed text increment.
type DeltaEvent struct {
	Text string `json:"text"`
}

// ErrorEvent is sent when a turn failed after the stream was opened.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// DoneEvent closes a send with the messages the turn appended.
type DoneEvent struct {
	SessionID string          `json:"sessionId"`
	Messages  []model.Message `json:"messages"`
}

// SetKeyRequest is the PUT /api/key body.
type SetKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// ============================================================================
// SESSION HANDLERS
// ============================================================================

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.deps.Sessions.Sessions()
	resp := SessionList{Sessions: make([]SessionSummary, 0, len(sessions))}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, SessionSummary{
			ID:               sess.ID,
			Name:             sess.Name,
			CreatedAt:        sess.CreatedAt,
			IsTitleGenerated: sess.IsTitleGenerated,
			MessageCount:     len(sess.Messages),
			State:            s.deps.Chat.State(sess.ID).String(),
		})
	}
	if id := s.deps.Sessions.ActiveID(); id != "" {
		resp.ActiveSessionID = &id
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.CreateSession(r.Context())
	if err != nil {
		s.logger.Error("create session: persist failed", "error", err)
	}
	writeJSON(w, http.StatusCreated, s.detail(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.detail(sess))
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req UpdateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == nil && req.Personality == nil {
		writeError(w, http.StatusBadRequest, "nothing to update: set name or personality")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name must not be empty")
		return
	}

	ctx := r.Context()
	if req.Name != nil {
		if err := s.deps.Sessions.RenameSession(ctx, sess.ID, strings.TrimSpace(*req.Name)); err != nil {
			s.logger.Error("rename session: persist failed", "session_id", sess.ID, "error", err)
		}
	}
	if req.Personality != nil {
		if err := s.deps.Sessions.SetPersonality(ctx, sess.ID, *req.Personality); err != nil {
			s.logger.Error("set personality: persist failed", "session_id", sess.ID, "error", err)
		}
	}

	updated, _ := s.deps.Sessions.Session(sess.ID)
	writeJSON(w, http.StatusOK, s.detail(updated))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := s.deps.Chat.DeleteSession(r.Context(), sess.ID); err != nil {
		s.logger.Error("delete session failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.deps.Sessions.SetActive(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		s.logger.Error("set active: persist failed", "session_id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"activeSessionId": id})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.Message{"messages": sess.Messages})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": s.deps.Chat.Cancel(sess.ID)})
}

// ============================================================================
// SEND (SSE)
// ============================================================================

// handleSendMessage runs one turn and streams it as server-sent events:
// "delta" per increment, "error" if the turn failed, then "done" with the
// messages the turn appended. Rejections that happen before the turn starts
// are plain JSON errors.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, chat.ErrEmptyMessage.Error())
		return
	}
	if s.deps.Chat.State(sess.ID).Busy() {
		writeError(w, http.StatusConflict, chat.ErrBusy.Error())
		return
	}

	sse, err := newEventWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	before := len(s.deps.Sessions.GetMessages(sess.ID))
	err = s.deps.Chat.SendMessage(r.Context(), sess.ID, req.Text, func(text string) {
		sse.send("delta", DeltaEvent{Text: text})
	})

	switch {
	case errors.Is(err, chat.ErrBusy) && !sse.started:
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, session.ErrNotFound) && !sse.started:
		writeError(w, http.StatusNotFound, "session not found")
		return
	case r.Context().Err() != nil:
		// Client went away; the partial reply is already stored.
		return
	case err != nil:
		sse.send("error", ErrorEvent{Kind: cloud.Classify(err).String(), Message: err.Error()})
	}

	msgs := s.deps.Sessions.GetMessages(sess.ID)
	if before > len(msgs) {
		before = len(msgs)
	}
	sse.send("done", DoneEvent{SessionID: sess.ID, Messages: msgs[before:]})
}

// eventWriter writes server-sent events. Headers go out with the first
// event so early rejections can still use a normal status code.
type eventWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newEventWriter(w http.ResponseWriter) (*eventWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, errors.New("response writer cannot flush")
	}
	return &eventWriter{w: w, rc: http.NewResponseController(w)}, nil
}

func (e *eventWriter) send(event string, v any) {
	if !e.started {
		h := e.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data)
	_ = e.rc.Flush()
}

// ============================================================================
// SETTINGS AND KEY HANDLERS
// ============================================================================

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Get())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	next := s.deps.Settings.Get()
	if !decodeBody(w, r, &next) {
		return
	}
	if err := s.deps.Settings.Replace(r.Context(), next); err != nil {
		var verrs config.ValidateErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, verrs.Error())
			return
		}
		s.logger.Error("save settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Settings.Get())
}

func (s *Server) handleKeyStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Credentials.Status(r.Context())
	if err != nil {
		s.logger.Warn("key status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stored key is unreadable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	var req SetKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Credentials.Set(r.Context(), req.APIKey); err != nil {
		if errors.Is(err, security.ErrEmptyKey) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("store key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store key")
		return
	}
	s.handleKeyStatus(w, r)
}

func (s *Server) handleClearKey(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Credentials.Clear(r.Context()); err != nil {
		s.logger.Error("clear key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateKey probes the effective key, or the one in the body when
// given.
func (s *Server) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	var req SetKeyRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		var err error
		if key, err = s.deps.Credentials.APIKey(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "stored key is unreadable")
			return
		}
	}

	err := s.deps.Validator.ValidateKey(r.Context(), key)
	resp := map[string]any{"valid": err == nil}
	if err != nil {
		resp["kind"] = cloud.Classify(err).String()
		resp["message"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// HEALTH
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"sessions":       s.deps.Sessions.Len(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run serves until ctx is canceled, then shuts down gracefully and flushes
// the session store.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", "addr", ln.Addr().String(), "version", Version)
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, waits for in-flight ones and flushes
// the session store.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("server shutting down")

	err := s.server.Shutdown(ctx)
	if flushErr := s.deps.Sessions.Flush(ctx); flushErr != nil {
		s.logger.Error("flush sessions failed", "error", flushErr)
		if err == nil {
			err = flushErr
		}
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

// lookup resolves the {id} path value or writes 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (model.Session, bool) {
	sess, ok := s.deps.Sessions.Session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

func (s *Server) detail(sess model.Session) SessionDetail {
	return SessionDetail{Session: sess, State: s.deps.Chat.State(sess.ID).String()}
}

// decodeBody reads a size-limited JSON body into v or writes 400.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType(status),
			"code":    status,
		},
	})
}

func errorType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}
