package history

import (
	"context"
	"sync"

	"github.com/robert-malhotra/orbit-imager/internal/session"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions []session.Session
	index    map[string]int
}

// NewMemoryStore creates an empty in-memory history.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

// Append records a finished session.
func (s *MemoryStore) Append(_ context.Context, sess session.Session) error {
	if err := validate(sess); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[sess.ID]; exists {
		return ErrDuplicateID
	}
	s.index[sess.ID] = len(s.sessions)
	s.sessions = append(s.sessions, sess.Clone())
	return nil
}

// AttachLocation sets the location of a pending session.
func (s *MemoryStore) AttachLocation(_ context.Context, id, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, exists := s.index[id]
	if !exists || s.sessions[i].LocationStatus == session.LocationResolved {
		return false, nil
	}
	s.sessions[i].Location = label
	s.sessions[i].LocationStatus = session.LocationResolved
	return true, nil
}

// Get returns a session by id.
func (s *MemoryStore) Get(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, exists := s.index[id]
	if !exists {
		return session.Session{}, ErrNotFound
	}
	return s.sessions[i].Clone(), nil
}

// List returns a page of sessions, oldest first.
func (s *MemoryStore) List(_ context.Context, offset, limit int) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.sessions) || limit <= 0 {
		return []session.Session{}, nil
	}
	end := min(offset+limit, len(s.sessions))

	out := make([]session.Session, 0, end-offset)
	for _, sess := range s.sessions[offset:end] {
		out = append(out, sess.Clone())
	}
	return out, nil
}

// Len returns the number of recorded sessions.
func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
