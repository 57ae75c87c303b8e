// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/stream"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

var (
	// ErrBusy is returned when a send is already running for the session.
	ErrBusy = errors.New("a message is already being sent for this session")

	// ErrEmptyMessage is returned for blank user text.
	ErrEmptyMessage = errors.New("message is empty")
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Store is the subset of the session store the orchestrator mutates.
type Store interface {
	Session(id string) (model.Session, bool)
	GetMessages(id string) []model.Message
	AppendMessage(ctx context.Context, id string, msg model.Message) error
	AppendToLastMessage(ctx context.Context, id, delta string) error
	DeleteSession(ctx context.Context, id string) error
}

// Transport opens a completion stream.
type Transport interface {
	Send(ctx context.Context, history []cloud.ChatMessage, apiKey string, params cloud.Params) (*cloud.Stream, error)
}

// Credentials supplies the API key. An absent key is "" with a nil error.
type Credentials interface {
	APIKey(ctx context.Context) (string, error)
}

// Settings supplies the model parameters for each send.
type Settings interface {
	ModelParams() cloud.Params
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// flight is one running send.
type flight struct {
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator runs sends against a Store. Safe for concurrent use.
type Orchestrator struct {
	store     Store
	transport Transport
	creds     Credentials
	settings  Settings
	logger    *slog.Logger
	observers []func(Transition)

	mu      sync.Mutex
	flights map[string]*flight
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver registers fn to receive every state transition. fn runs on
// the sending goroutine and must not block.
func WithObserver(fn func(Transition)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// New creates an Orchestrator.
func New(store Store, transport Transport, creds Credentials, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		transport: transport,
		creds:     creds,
		settings:  settings,
		logger:    slog.Default(),
		flights:   make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state of a session. Sessions with nothing in
// flight are Idle.
func (o *Orchestrator) State(sessionID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if f, ok := o.flights[sessionID]; ok {
		return f.state
	}
	return StateIdle
}

// Cancel aborts the running send of a session. It reports whether there was
// one.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.flights[sessionID]
	if !ok {
		return false
	}
	f.cancel()
	return true
}

// DeleteSession cancels any running send, waits for it to unwind, and
// deletes the session.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	f, ok := o.flights[sessionID]
	if ok {
		f.cancel()
	}
	o.mu.Unlock()

	if ok {
		select {
		case <-f.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return o.store.DeleteSession(ctx, sessionID)
}

// SendMessage runs one turn on a session and blocks until it ends.
//
// onIncrement, if not nil, receives each text increment after it has been
// applied to the store. The returned error is nil on success, the transport
// or stream error on failure (already recorded in the transcript), or the
// context error when the caller canceled. Canceling keeps streamed text and
// adds no error message.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, text string, onIncrement func(string)) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	sess, ok := o.store.Session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrNotFound, sessionID)
	}

	sendCtx, f, err := o.begin(ctx, sessionID)
	if err != nil {
		return err
	}
	defer o.finish(sessionID, f)

	// Store writes outlive cancellation so streamed text is never lost.
	storeCtx := context.WithoutCancel(ctx)
	log := o.logger.With("session_id", sessionID)

	if err := o.store.AppendMessage(storeCtx, sessionID, model.NewUserMessage(text)); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return err
		}
		log.Warn("persist user message failed", "error", err)
	}

	history := BuildHistory(sess.EffectivePersonality(), o.store.GetMessages(sessionID))
	params := o.settings.ModelParams()

	apiKey, err := o.creds.APIKey(sendCtx)
	var st *cloud.Stream
	if err == nil {
		st, err = o.transport.Send(sendCtx, history, apiKey, params)
	}
	if err != nil {
		if sendCtx.Err() != nil {
			log.Info("send canceled before stream opened")
			return sendCtx.Err()
		}
		log.Warn("send failed", "kind", cloud.Classify(err).String(), "error", err)
		o.fail(storeCtx, sessionID, f, err)
		return err
	}
	defer st.Close()

	if err := o.store.AppendMessage(storeCtx, sessionID, model.NewAssistantMessage()); err != nil {
		log.Warn("persist placeholder failed", "error", err)
	}
	o.transition(sessionID, f, StateStreaming, nil)

	increments := 0
	err = stream.Each(sendCtx, st, st.Charset(), func(ev stream.Event) error {
		switch ev := ev.(type) {
		case stream.TextIncrement:
			if err := o.store.AppendToLastMessage(storeCtx, sessionID, ev.Text); err != nil {
				log.Warn("persist increment failed", "error", err)
			}
			increments++
			if onIncrement != nil {
				onIncrement(ev.Text)
			}
		case stream.ParseSkipped:
			log.Debug("skipped stream line", "line", util.TruncateRunes(ev.Line, 80), "error", ev.Err)
		}
		return nil
	})

	switch {
	case err == nil:
		log.Debug("stream complete", "increments", increments, "model", params.Model)
		return nil
	case sendCtx.Err() != nil:
		log.Info("stream canceled", "increments", increments)
		return sendCtx.Err()
	default:
		log.Warn("stream failed", "increments", increments, "error", err)
		var netErr *cloud.NetworkError
		if !errors.As(err, &netErr) {
			err = &cloud.NetworkError{Err: err}
		}
		o.fail(storeCtx, sessionID, f, err)
		return err
	}
}

// BuildHistory maps a transcript to the outbound message list, with the
// personality as the leading system entry.
func BuildHistory(personality string, messages []model.Message) []cloud.ChatMessage {
	history := make([]cloud.ChatMessage, 0, len(messages)+1)
	history = append(history, cloud.NewSystemMessage(personality))
	for _, m := range messages {
		history = append(history, cloud.ChatMessage{Role: m.Role.String(), Content: m.Text})
	}
	return history
}

// =============================================================================
// STATE MACHINE
// =============================================================================

// begin registers a flight for sessionID or fails with ErrBusy.
func (o *Orchestrator) begin(ctx context.Context, sessionID string) (context.Context, *flight, error) {
	o.mu.Lock()
	if _, busy := o.flights[sessionID]; busy {
		o.mu.Unlock()
		return nil, nil, ErrBusy
	}
	sendCtx, cancel := context.WithCancel(ctx)
	f := &flight{state: StateIdle, cancel: cancel, done: make(chan struct{})}
	o.flights[sessionID] = f
	o.mu.Unlock()

	o.transition(sessionID, f, StateSending, nil)
	return sendCtx, f, nil
}

// finish returns the session to Idle and releases the flight.
func (o *Orchestrator) finish(sessionID string, f *flight) {
	o.transition(sessionID, f, StateIdle, nil)

	o.mu.Lock()
	delete(o.flights, sessionID)
	o.mu.Unlock()

	f.cancel()
	close(f.done)
}

// fail records err as an assistant message and enters Error.
func (o *Orchestrator) fail(ctx context.Context, sessionID string, f *flight, err error) {
	if appendErr := o.store.AppendMessage(ctx, sessionID, model.NewErrorMessage(err.Error())); appendErr != nil {
		o.logger.Warn("persist error message failed", "session_id", sessionID, "error", appendErr)
	}
	o.transition(sessionID, f, StateError, err)
}

func (o *Orchestrator) transition(sessionID string, f *flight, to State, err error) {
	o.mu.Lock()
	from := f.state
	f.state = to
	o.mu.Unlock()

	if from == to {
		return
	}
	t := Transition{SessionID: sessionID, From: from, To: to, Err: err}
	for _, fn := range o.observers {
		fn(t)
	}
}
