package block

import (
	"context"
	"sync"
	"time"

	"caseguard/internal/scope/models"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/sentinel"
)

type pairKey struct {
	user   id.UserID
	client id.ClientID
}

// InMemoryStore is the test and development double for access blocks.
type InMemoryStore struct {
	mu     sync.RWMutex
	blocks map[pairKey]*models.ClientAccessBlock
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blocks: make(map[pairKey]*models.ClientAccessBlock)}
}

// Set records an active block for (user, client). Setting an already-blocked
// pair refreshes the reason; the pair stays blocked either way.
func (s *InMemoryStore) Set(_ context.Context, b *models.ClientAccessBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.blocks[pairKey{b.UserID, b.ClientID}] = &cp
	return nil
}

func (s *InMemoryStore) Lift(_ context.Context, userID id.UserID, clientID id.ClientID, liftedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[pairKey{userID, clientID}]
	if !ok || !b.IsActive() {
		return sentinel.ErrNotFound
	}
	b.LiftedAt = &liftedAt
	return nil
}

func (s *InMemoryStore) IsBlocked(_ context.Context, userID id.UserID, clientID id.ClientID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[pairKey{userID, clientID}]
	return ok && b.IsActive(), nil
}

// ListBlockedClients returns every client the user is actively blocked from.
// The boundary subtracts this set from all listings and candidate pools.
func (s *InMemoryStore) ListBlockedClients(_ context.Context, userID id.UserID) ([]id.ClientID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.ClientID
	for key, b := range s.blocks {
		if key.user == userID && b.IsActive() {
			out = append(out, key.client)
		}
	}
	return out, nil
}
