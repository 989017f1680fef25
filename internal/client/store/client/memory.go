package client

import (
	"context"
	"sort"
	"sync"

	"caseguard/internal/boundary"
	"caseguard/internal/client/models"
	"caseguard/internal/match"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/sentinel"
)

// InMemoryStore is the test and development double for client files. Like
// the postgres store, its read methods are visibility-constrained: there is
// no way to list clients without a boundary.Visibility.
type InMemoryStore struct {
	mu      sync.RWMutex
	clients map[id.ClientID]*models.ClientFile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{clients: make(map[id.ClientID]*models.ClientFile)}
}

func (s *InMemoryStore) Create(_ context.Context, c *models.ClientFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[c.ID]; exists {
		return sentinel.ErrConflict
	}
	s.clients[c.ID] = copyClient(c)
	return nil
}

// FindVisible returns the client only when the constraint admits it. True
// absence, a blocked pair, and a boundary exclusion are all ErrNotFound;
// the store cannot tell callers which one happened.
func (s *InMemoryStore) FindVisible(_ context.Context, vis boundary.Visibility, clientID id.ClientID) (*models.ClientFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok || !visible(vis, c) {
		return nil, sentinel.ErrNotFound
	}
	return copyClient(c), nil
}

// ListVisible returns a page of clients inside the constraint, ordered by
// creation time.
func (s *InMemoryStore) ListVisible(_ context.Context, vis boundary.Visibility, limit, offset int) ([]*models.ClientFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if vis.IsEmpty() {
		return nil, nil
	}

	var all []*models.ClientFile
	for _, c := range s.clients {
		if visible(vis, c) {
			all = append(all, copyClient(c))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// FindByID is internal authority for governance flows (erasure snapshots,
// cascade checks). HTTP read paths go through FindVisible only.
func (s *InMemoryStore) FindByID(_ context.Context, clientID id.ClientID) (*models.ClientFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyClient(c), nil
}

// Execute runs a validate-then-mutate callback under the store lock.
func (s *InMemoryStore) Execute(_ context.Context, clientID id.ClientID, fn func(*models.ClientFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cp := copyClient(c)
	if err := fn(cp); err != nil {
		return err
	}
	s.clients[clientID] = cp
	return nil
}

// FindByMatchKey returns clients inside the constraint whose derived match
// key equals the given key.
func (s *InMemoryStore) FindByMatchKey(_ context.Context, vis boundary.Visibility, field match.Field, key string) ([]id.ClientID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if vis.IsEmpty() || key == "" {
		return nil, nil
	}

	var out []id.ClientID
	for _, c := range s.clients {
		if !visible(vis, c) {
			continue
		}
		switch field {
		case match.FieldPhone:
			if c.PhoneKey == key {
				out = append(out, c.ID)
			}
		case match.FieldFirstNameDOB:
			if c.NameDOBKey == key {
				out = append(out, c.ID)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// CountByProgram counts enrolled clients. Callers must pass the result
// through boundary suppression before surfacing it.
func (s *InMemoryStore) CountByProgram(_ context.Context, programID id.ProgramID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, c := range s.clients {
		if c.EnrolledIn(programID) {
			count++
		}
	}
	return count, nil
}

// CascadeErase hard-deletes the client record and everything derived from
// it, returning per-type counts for the frozen data summary. It shares no
// code with status changes.
func (s *InMemoryStore) CascadeErase(_ context.Context, clientID id.ClientID) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	matchKeys := 0
	if c.PhoneKey != "" {
		matchKeys++
	}
	if c.NameDOBKey != "" {
		matchKeys++
	}
	counts := map[string]int{
		"client_files": 1,
		"enrolments":   len(c.Enrolments),
		"match_keys":   matchKeys,
	}
	delete(s.clients, clientID)
	return counts, nil
}

func visible(vis boundary.Visibility, c *models.ClientFile) bool {
	if vis.Blocks(c.ID) {
		return false
	}
	for _, p := range c.Enrolments {
		if vis.AllowsProgram(p) {
			return true
		}
	}
	return false
}

func copyClient(c *models.ClientFile) *models.ClientFile {
	cp := *c
	cp.Sealed = append([]byte(nil), c.Sealed...)
	cp.Enrolments = append([]id.ProgramID(nil), c.Enrolments...)
	return &cp
}
