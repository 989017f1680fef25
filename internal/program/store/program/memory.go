package program

import (
	"context"
	"sort"
	"strings"
	"sync"

	"caseguard/internal/program/models"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/sentinel"
)

// InMemoryStore is the test and development double for the program store.
type InMemoryStore struct {
	mu       sync.RWMutex
	programs map[id.ProgramID]*models.Program
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{programs: make(map[id.ProgramID]*models.Program)}
}

// CreateIfNameAvailable inserts the program unless the name is taken.
// Name comparison is case-insensitive, matching the postgres unique index.
func (s *InMemoryStore) CreateIfNameAvailable(_ context.Context, program *models.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.programs {
		if strings.EqualFold(existing.Name, program.Name) {
			return sentinel.ErrConflict
		}
	}
	cp := *program
	s.programs[program.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, programID id.ProgramID) (*models.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.programs[programID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Program, 0, len(s.programs))
	for _, p := range s.programs {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Execute runs a validate-then-mutate callback under the store lock. The
// callback sees a copy; mutations are persisted only when it returns nil.
func (s *InMemoryStore) Execute(_ context.Context, programID id.ProgramID, fn func(*models.Program) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[programID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cp := *p
	if err := fn(&cp); err != nil {
		return err
	}
	s.programs[programID] = &cp
	return nil
}
