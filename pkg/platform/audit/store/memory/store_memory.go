package memory

import (
	"context"
	"sync"

	id "caseguard/pkg/domain"
	audit "caseguard/pkg/platform/audit"
)

// InMemoryStore keeps events in append order. It is the test-time stand-in
// for the postgres outbox store and honors the same dedupe-key contract.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	keys   map[string]struct{}

	// failNext, when set, makes the next Append return the given error.
	// Tests use this to simulate an unreachable audit sink.
	failNext error
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{keys: make(map[string]struct{})}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.keys = make(map[string]struct{})
}

// FailNextAppend makes the next Append call fail with err.
func (s *InMemoryStore) FailNextAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}

	if event.DedupeKey != "" {
		if _, ok := s.keys[event.DedupeKey]; ok {
			return nil
		}
		s.keys[event.DedupeKey] = struct{}{}
	}
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) HasKey(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok, nil
}

func (s *InMemoryStore) ListByClient(_ context.Context, clientID id.ClientID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, e := range s.events {
		if e.ClientID == clientID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAll returns every recorded event in append order.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...), nil
}

// ByAction filters recorded events by action. Test helper.
func (s *InMemoryStore) ByAction(action audit.AuditEvent) []audit.Event {
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
