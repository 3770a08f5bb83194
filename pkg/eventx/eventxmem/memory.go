// Package eventxmem provides an in-memory eventx.Store for tests and local
// development.
package eventxmem

import (
	"context"
	"sync"

	"github.com/Abraxas-365/recibo/pkg/eventx"
)

// MemoryStore implements eventx.Store with a mutex-protected map.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*eventx.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*eventx.Event)}
}

func (s *MemoryStore) Create(_ context.Context, event *eventx.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *event
	s.events[event.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*eventx.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return nil, eventx.NotFound(id)
	}
	clone := *event
	return &clone, nil
}
