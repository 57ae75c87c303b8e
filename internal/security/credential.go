// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// EnvAPIKey overrides the stored credential when set.
const EnvAPIKey = "RIGRUN_CHAT_API_KEY"

// MasterKeyFile is the name of the master secret file in the data dir.
const MasterKeyFile = "master.key"

var (
	// ErrNoCredential means no API key is stored.
	ErrNoCredential = errors.New("no API key stored")

	// ErrEmptyKey is returned when storing a blank key.
	ErrEmptyKey = errors.New("API key is empty")
)

// Source says where the effective API key comes from.
type Source string

const (
	SourceNone   Source = "none"
	SourceEnv    Source = "env"
	SourceStored Source = "stored"
)

// Status describes the effective credential without revealing it.
type Status struct {
	Source      Source `json:"source"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Length      int    `json:"length,omitempty"`
}

// =============================================================================
// CREDENTIAL STORE
// =============================================================================

// CredentialStore keeps the API key under storage.KeyCredential, encrypted
// with AES-256-GCM. The key is derived with PBKDF2 from a random secret and
// salt kept in MasterKeyFile, created on first use with mode 0600.
type CredentialStore struct {
	backend    storage.Backend
	keyPath    string
	iterations int
	logger     *slog.Logger
	getenv     func(string) string

	mu     sync.Mutex
	cipher *Cipher
}

// CredentialOption configures a CredentialStore.
type CredentialOption func(*CredentialStore)

// WithIterations overrides the PBKDF2 round count.
func WithIterations(n int) CredentialOption {
	return func(s *CredentialStore) {
		if n > 0 {
			s.iterations = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CredentialOption {
	return func(s *CredentialStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnv replaces os.Getenv for the override lookup.
func WithEnv(getenv func(string) string) CredentialOption {
	return func(s *CredentialStore) {
		if getenv != nil {
			s.getenv = getenv
		}
	}
}

// NewCredentialStore creates a store whose master secret lives in dataDir.
func NewCredentialStore(backend storage.Backend, dataDir string, opts ...CredentialOption) *CredentialStore {
	s := &CredentialStore{
		backend:    backend,
		keyPath:    filepath.Join(dataDir, MasterKeyFile),
		iterations: PBKDF2Iterations,
		logger:     slog.Default(),
		getenv:     os.Getenv,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// APIKey returns the effective key: the environment override if set, else
// the stored key, else "" with a nil error.
func (s *CredentialStore) APIKey(ctx context.Context) (string, error) {
	if key := strings.TrimSpace(s.getenv(EnvAPIKey)); key != "" {
		return key, nil
	}
	key, err := s.Get(ctx)
	if errors.Is(err, ErrNoCredential) {
		return "", nil
	}
	return key, err
}

// Get returns the stored key, ignoring the environment. It returns
// ErrNoCredential when nothing is stored.
func (s *CredentialStore) Get(ctx context.Context) (string, error) {
	data, err := s.backend.Get(ctx, storage.KeyCredential)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}

	value := strings.TrimSpace(string(data))
	if !IsEncrypted(value) {
		// Plaintext values, as browser local storage keeps them, may be
		// JSON-quoted.
		var unquoted string
		if json.Unmarshal([]byte(value), &unquoted) == nil {
			value = unquoted
		}
		if value == "" {
			return "", ErrNoCredential
		}
		return value, nil
	}

	c, err := s.loadCipher()
	if err != nil {
		return "", err
	}
	key, err := c.DecryptString(value)
	if err != nil {
		s.logger.Warn("stored credential could not be decrypted", "error", err)
		return "", fmt.Errorf("decrypt credential: %w", err)
	}
	return key, nil
}

// Set encrypts and stores key after trimming surrounding whitespace.
func (s *CredentialStore) Set(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}

	c, err := s.loadCipher()
	if err != nil {
		return err
	}
	value, err := c.EncryptString(key)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	if err := s.backend.Put(ctx, storage.KeyCredential, []byte(value)); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	s.logger.Info("api key stored", "fingerprint", cloud.KeyFingerprint(key))
	return nil
}

// Clear removes the stored key. Clearing an empty store is not an error.
func (s *CredentialStore) Clear(ctx context.Context) error {
	err := s.backend.Delete(ctx, storage.KeyCredential)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// Status reports where the effective key comes from and its fingerprint.
func (s *CredentialStore) Status(ctx context.Context) (Status, error) {
	if key := strings.TrimSpace(s.getenv(EnvAPIKey)); key != "" {
		return Status{Source: SourceEnv, Fingerprint: cloud.KeyFingerprint(key), Length: len(key)}, nil
	}
	key, err := s.Get(ctx)
	if errors.Is(err, ErrNoCredential) {
		return Status{Source: SourceNone}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{Source: SourceStored, Fingerprint: cloud.KeyFingerprint(key), Length: len(key)}, nil
}

// =============================================================================
// MASTER KEY
// =============================================================================

// loadCipher derives the cipher once per store.
func (s *CredentialStore) loadCipher() (*Cipher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cipher != nil {
		return s.cipher, nil
	}

	secret, salt, err := loadOrCreateMasterKey(s.keyPath)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(secret)

	key := DeriveKeyIterations(secret, salt, s.iterations)
	defer ZeroBytes(key)

	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	s.cipher = c
	return c, nil
}

// loadOrCreateMasterKey reads secret||salt from path, creating it on first
// use.
func loadOrCreateMasterKey(path string) (secret, salt []byte, err error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != KeySize+SaltSize {
			return nil, nil, fmt.Errorf("master key %s is corrupt (%d bytes)", path, len(data))
		}
		return data[:KeySize], data[KeySize:], nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, nil, fmt.Errorf("read master key: %w", err)
	}

	secret, err = GenerateMasterKey()
	if err != nil {
		return nil, nil, err
	}
	salt, err = GenerateSalt()
	if err != nil {
		return nil, nil, err
	}
	data = append(append([]byte{}, secret...), salt...)
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return nil, nil, fmt.Errorf("write master key: %w", err)
	}
	return secret, salt, nil
}
