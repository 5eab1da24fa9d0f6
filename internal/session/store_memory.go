package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory session record store for tests and early
// development.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]Session{}}
}

func (s *MemoryStore) Save(ctx context.Context, rec Session) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.SessionID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (Session, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	return rec, ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) ListByAccount(ctx context.Context, accountID string) ([]Session, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0)
	for _, rec := range s.sessions {
		if rec.AccountID == accountID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// MemoryCredentialStore keeps transport credentials in memory. Tests only;
// production uses the Postgres implementation so reconnects survive restarts.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[string][]byte
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: map[string][]byte{}}
}

func (s *MemoryCredentialStore) Load(ctx context.Context, sessionID string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.creds[sessionID]
	return b, ok, nil
}

func (s *MemoryCredentialStore) Save(ctx context.Context, sessionID string, credentials []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(credentials))
	copy(cp, credentials)
	s.creds[sessionID] = cp
	return nil
}

func (s *MemoryCredentialStore) Delete(ctx context.Context, sessionID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, sessionID)
	return nil
}
