package memory

import (
	"context"
	"sync"

	audit "votegate/pkg/platform/audit"
)

// Store is an in-process audit sink for tests and single-node development.
type Store struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Write(_ context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// ListByAction returns the events with the given action in write order.
func (s *Store) ListByAction(_ context.Context, action audit.AuditEvent) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, e := range s.events {
		if e.Action == string(action) {
			out = append(out, e)
		}
	}
	return out
}

// ListAll returns every event in write order.
func (s *Store) ListAll(_ context.Context) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
