// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// ErrNotFound is returned when an operation names an unknown session.
var ErrNotFound = errors.New("session not found")

// =============================================================================
// PERSISTED LAYOUT
// =============================================================================

// blobVersion is written with every snapshot for future migrations.
const blobVersion = 0

// snapshot is the serialized form of the whole store under storage.KeyChat.
type snapshot struct {
	State   snapshotState `json:"state"`
	Version int           `json:"version"`
}

type snapshotState struct {
	Sessions        map[string]model.Session `json:"sessions"`
	ActiveSessionID *string                  `json:"activeSessionId"`
}

// =============================================================================
// STORE
// =============================================================================

// Store is the process-wide session collection.
// Every exported method is atomic with respect to every other.
type Store struct {
	mu sync.Mutex

	backend storage.Backend
	logger  *slog.Logger
	now     func() time.Time

	sessions map[string]*model.Session
	order    []string // insertion order, oldest first
	activeID string   // empty means none
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Load restores the store from backend. On first run (no blob) it seeds a
// single default session, makes it active, and persists it.
func Load(ctx context.Context, backend storage.Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend:  backend,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*model.Session),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := backend.Get(ctx, storage.KeyChat)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sess := model.NewSession(s.now())
		s.insert(&sess)
		s.activeID = sess.ID
		if err := s.persist(ctx); err != nil {
			return nil, err
		}
		s.logger.Info("session store initialized", "session_id", sess.ID)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", storage.KeyChat, err)
	}

	loaded := make([]*model.Session, 0, len(snap.State.Sessions))
	for id, sess := range snap.State.Sessions {
		sess := sess
		sess.ID = id
		if sess.Messages == nil {
			sess.Messages = []model.Message{}
		}
		loaded = append(loaded, &sess)
	}
	sort.Slice(loaded, func(i, j int) bool {
		if loaded[i].CreatedAt != loaded[j].CreatedAt {
			return loaded[i].CreatedAt < loaded[j].CreatedAt
		}
		return loaded[i].ID < loaded[j].ID
	})
	for _, sess := range loaded {
		s.insert(sess)
	}

	if snap.State.ActiveSessionID != nil {
		s.activeID = *snap.State.ActiveSessionID
	}
	// A stale pointer left by an older writer is repaired on load.
	if _, ok := s.sessions[s.activeID]; !ok {
		s.activeID = s.firstID()
	}

	s.logger.Debug("session store loaded", "sessions", len(s.order), "active", s.activeID)
	return s, nil
}

// =============================================================================
// SESSION MANAGEMENT
// =============================================================================

// CreateSession inserts an empty session with the default personality and
// makes it active.
func (s *Store) CreateSession(ctx context.Context) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := model.NewSession(s.now())
	s.insert(&sess)
	s.activeID = sess.ID
	return sess.Clone(), s.persist(ctx)
}

// DeleteSession removes a session. When it was active, the oldest remaining
// session becomes active, or none when the store is empty. Unknown ids are
// a no-op.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return nil
	}

	delete(s.sessions, id)
	for i, sid := range s.order {
		if sid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = s.firstID()
	}
	return s.persist(ctx)
}

// RenameSession replaces a session's display name. Unknown ids are a no-op.
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.Name = name
	return s.persist(ctx)
}

// SetActive points the active session at id. Unknown ids are rejected with
// ErrNotFound so the pointer never dangles.
func (s *Store) SetActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.activeID = id
	return s.persist(ctx)
}

// SetPersonality replaces a session's system instruction. Unknown ids are a
// no-op.
func (s *Store) SetPersonality(ctx context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.Personality = text
	return s.persist(ctx)
}

// =============================================================================
// TRANSCRIPT MUTATION
// =============================================================================

// AppendMessage appends msg to the tail of the session's transcript.
//
// The first user message of a session without a generated title also sets
// the session name (see model.DeriveTitle). That happens once per session.
func (s *Store) AppendMessage(ctx context.Context, id string, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if msg.ID == "" {
		msg.ID = model.NewMessageID()
	}

	sess.Messages = append(sess.Messages, msg)
	if msg.Role == model.RoleUser && !sess.IsTitleGenerated {
		sess.Name = model.DeriveTitle(msg.Text)
		sess.IsTitleGenerated = true
	}
	return s.persist(ctx)
}

// AppendToLastMessage concatenates delta onto the last message of the
// session. Unknown sessions and empty transcripts are a silent no-op.
func (s *Store) AppendToLastMessage(ctx context.Context, id, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || len(sess.Messages) == 0 {
		return nil
	}
	sess.Messages[len(sess.Messages)-1].Text += delta
	return s.persist(ctx)
}

// =============================================================================
// READS
// =============================================================================

// GetMessages returns a copy of the transcript, or an empty slice for an
// unknown id.
func (s *Store) GetMessages(id string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return []model.Message{}
	}
	out := make([]model.Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out
}

// Session returns a copy of the session with the given id.
func (s *Store) Session(id string) (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return sess.Clone(), true
}

// Sessions returns copies of all sessions, oldest first.
func (s *Store) Sessions() []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id].Clone())
	}
	return out
}

// ActiveID returns the active session id, or "" when there is none.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns a copy of the active session.
func (s *Store) Active() (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[s.activeID]
	if !ok {
		return model.Session{}, false
	}
	return sess.Clone(), true
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Flush rewrites the persisted blob. Called on shutdown.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx)
}

// =============================================================================
// INTERNALS (caller holds s.mu)
// =============================================================================

func (s *Store) insert(sess *model.Session) {
	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
}

func (s *Store) firstID() string {
	if len(s.order) == 0 {
		return ""
	}
	return s.order[0]
}

// persist writes the whole collection. In-memory state is already mutated
// when this fails; the error is logged and returned to the caller.
func (s *Store) persist(ctx context.Context) error {
	snap := snapshot{
		State: snapshotState{
			Sessions: make(map[string]model.Session, len(s.sessions)),
		},
		Version: blobVersion,
	}
	for id, sess := range s.sessions {
		snap.State.Sessions[id] = *sess
	}
	if s.activeID != "" {
		active := s.activeID
		snap.State.ActiveSessionID = &active
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	if err := s.backend.Put(ctx, storage.KeyChat, data); err != nil {
		s.logger.Error("persist sessions failed", "error", err)
		return fmt.Errorf("persist sessions: %w", err)
	}
	return nil
}
