package role

import (
	"context"
	"sync"
	"time"

	"caseguard/internal/scope/models"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/sentinel"
)

// InMemoryStore is the test and development double for role assignments.
type InMemoryStore struct {
	mu    sync.RWMutex
	roles map[id.UserID]map[id.ProgramID]*models.UserProgramRole
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{roles: make(map[id.UserID]map[id.ProgramID]*models.UserProgramRole)}
}

// Assign records an active role for (user, program), replacing any prior
// active assignment for the same pair.
func (s *InMemoryStore) Assign(_ context.Context, assignment *models.UserProgramRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byProgram, ok := s.roles[assignment.UserID]
	if !ok {
		byProgram = make(map[id.ProgramID]*models.UserProgramRole)
		s.roles[assignment.UserID] = byProgram
	}
	cp := *assignment
	byProgram[assignment.ProgramID] = &cp
	return nil
}

// Revoke marks the active assignment revoked. Missing assignments return
// ErrNotFound; already-revoked ones too, since the resolver treats both as
// absent.
func (s *InMemoryStore) Revoke(_ context.Context, userID id.UserID, programID id.ProgramID, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	assignment, ok := s.roles[userID][programID]
	if !ok || !assignment.IsActive() {
		return sentinel.ErrNotFound
	}
	assignment.RevokedAt = &revokedAt
	return nil
}

func (s *InMemoryStore) ListActiveByUser(_ context.Context, userID id.UserID) ([]*models.UserProgramRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.UserProgramRole
	for _, assignment := range s.roles[userID] {
		if assignment.IsActive() {
			cp := *assignment
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListManagersByProgram returns users holding an active program_manager role
// in the program. Erasure governance uses this to find required approvers.
func (s *InMemoryStore) ListManagersByProgram(_ context.Context, programID id.ProgramID) ([]id.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.UserID
	for userID, byProgram := range s.roles {
		if assignment, ok := byProgram[programID]; ok {
			if assignment.IsActive() && assignment.Role == models.RoleProgramManager {
				out = append(out, userID)
			}
		}
	}
	return out, nil
}
