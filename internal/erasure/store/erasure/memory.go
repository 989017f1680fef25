package erasure

import (
	"context"
	"sync"

	"caseguard/internal/erasure/models"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/sentinel"
)

// InMemoryStore is the test double for erasure requests. Execute holds the
// store lock for the whole callback, which gives the same serialization
// concurrent final approvals get from the row lock in postgres.
type InMemoryStore struct {
	mu       sync.Mutex
	requests map[id.ErasureRequestID]*models.ErasureRequest
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[id.ErasureRequestID]*models.ErasureRequest)}
}

func (s *InMemoryStore) Create(_ context.Context, req *models.ErasureRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return sentinel.ErrConflict
	}
	s.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, requestID id.ErasureRequestID) (*models.ErasureRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRequest(req), nil
}

// Execute runs a validate-then-mutate callback under the store lock. The
// callback receives the context unchanged; in postgres the same method hands
// the callback a transaction-carrying context so the audit write and the
// cascade delete join the request update atomically.
func (s *InMemoryStore) Execute(ctx context.Context, requestID id.ErasureRequestID, fn func(txCtx context.Context, req *models.ErasureRequest) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cp := copyRequest(req)
	if err := fn(ctx, cp); err != nil {
		return err
	}
	s.requests[requestID] = cp
	return nil
}

// Len reports the number of stored requests. Test helper.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func copyRequest(req *models.ErasureRequest) *models.ErasureRequest {
	cp := *req
	cp.ProgramsRequired = make(map[id.ProgramID][]id.UserID, len(req.ProgramsRequired))
	for p, users := range req.ProgramsRequired {
		cp.ProgramsRequired[p] = append([]id.UserID(nil), users...)
	}
	cp.Approvals = append([]models.Approval(nil), req.Approvals...)
	if req.DataSummary != nil {
		cp.DataSummary = make(map[string]int, len(req.DataSummary))
		for k, v := range req.DataSummary {
			cp.DataSummary[k] = v
		}
	}
	if req.ExecutedAt != nil {
		at := *req.ExecutedAt
		cp.ExecutedAt = &at
	}
	return &cp
}
