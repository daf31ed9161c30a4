package memory

import (
	"context"
	"sync"
)

// MemStore is an in-process Store.
type MemStore struct {
	mu      sync.RWMutex
	windows map[string][]Message
}

// NewMemStore creates an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{windows: make(map[string][]Message)}
}

// Load returns a copy of the user's window.
func (s *MemStore) Load(_ context.Context, userID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.windows[userID]...), nil
}

// Save replaces the user's window with a copy of window.
func (s *MemStore) Save(_ context.Context, userID string, window []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[userID] = append([]Message(nil), window...)
	return nil
}

// Clear drops the user's window.
func (s *MemStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, userID)
	return nil
}
