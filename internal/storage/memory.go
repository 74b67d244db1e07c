package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/models"
)

// MemoryStorage provides in-memory storage for sessions
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	codes    map[string]string
	fanout   *Fanout
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]models.Session),
		codes:    make(map[string]string),
		fanout:   NewFanout(),
	}
}

var _ Store = (*MemoryStorage)(nil)

// Create stores a new session
func (s *MemoryStorage) Create(ctx context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return ErrSessionExists
	}
	if owner, taken := s.codes[session.Code]; taken && session.Code != "" {
		return apperrors.New(apperrors.CodeSessionExists, fmt.Sprintf("code %s already held by session %s", session.Code, owner))
	}

	s.sessions[session.ID] = session.Clone()
	if session.Code != "" {
		s.codes[session.Code] = session.ID
	}
	return nil
}

// Get retrieves a session by ID
func (s *MemoryStorage) Get(ctx context.Context, id string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return models.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// GetByCode retrieves the session holding a join code
func (s *MemoryStorage) GetByCode(ctx context.Context, code string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[code]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return s.sessions[id].Clone(), nil
}

// Mutate applies fn under the write lock
func (s *MemoryStorage) Mutate(ctx context.Context, id string, fn MutateFunc) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.sessions[id]
	if !exists {
		return models.Session{}, ErrSessionNotFound
	}

	next, err := fn(current.Clone())
	if err != nil {
		return models.Session{}, err
	}
	if err := CheckCommit(id, current, next); err != nil {
		return models.Session{}, err
	}

	s.sessions[id] = next.Clone()
	s.fanout.Publish(next)
	return next, nil
}

// Delete removes a session and its code
func (s *MemoryStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	session, exists := s.sessions[id]
	if exists {
		delete(s.sessions, id)
		if s.codes[session.Code] == id {
			delete(s.codes, session.Code)
		}
	}
	s.mu.Unlock()

	if !exists {
		return ErrSessionNotFound
	}
	s.fanout.Close(id)
	return nil
}

// Subscribe delivers the current session followed by every committed change
func (s *MemoryStorage) Subscribe(ctx context.Context, id string, fn SnapshotFunc) (func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current, exists := s.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return s.fanout.Subscribe(id, fn, &current), nil
}
