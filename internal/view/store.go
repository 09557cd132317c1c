package view

import (
	"errors"
	"sync"
)

var ErrStoreClosed = errors.New("view store closed")

// Store owns one session's View. It is created per session and closed when
// the session ends; a closed store rejects further updates.
type Store struct {
	mu     sync.RWMutex
	view   View
	closed bool
}

func NewStore() *Store {
	return &Store{view: Empty()}
}

// Snapshot returns the current View. Callers must not mutate it.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Update applies fn to the current View and installs the result.
func (s *Store) Update(fn func(View) Result) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, ErrStoreClosed
	}
	res := fn(s.view)
	if res.View.Chains != nil {
		s.view = res.View
	}
	return res, nil
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.view = Empty()
}
