package erasure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"caseguard/internal/erasure/models"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/sentinel"
)

type InMemoryErasureStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
}

func (s *InMemoryErasureStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
}

func TestInMemoryErasureStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryErasureStoreSuite))
}

func (s *InMemoryErasureStoreSuite) newRequest(manager id.UserID) *models.ErasureRequest {
	req, err := models.NewErasureRequest(
		id.NewErasureRequestID(),
		id.NewClientID(),
		id.NewUserID(),
		"client request",
		map[id.ProgramID][]id.UserID{id.NewProgramID(): {manager}},
		time.Now(),
	)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, req))
	return req
}

func (s *InMemoryErasureStoreSuite) TestCreateAndFind() {
	req := s.newRequest(id.NewUserID())

	found, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(req.ID, found.ID)
	s.Equal(models.StatusPending, found.Status)
	s.Equal(req.ProgramsRequired, found.ProgramsRequired)

	s.Require().ErrorIs(s.store.Create(s.ctx, req), sentinel.ErrConflict)

	_, err = s.store.FindByID(s.ctx, id.NewErasureRequestID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryErasureStoreSuite) TestExecutePersistsCallbackMutations() {
	manager := id.NewUserID()
	req := s.newRequest(manager)
	programID := req.RequiredProgramIDs()[0]

	err := s.store.Execute(s.ctx, req.ID, func(_ context.Context, r *models.ErasureRequest) error {
		if err := r.CanDecide(programID, manager); err != nil {
			return err
		}
		r.ApplyApproval(programID, manager, "", time.Now())
		return nil
	})
	s.Require().NoError(err)

	found, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, found.Status)
	s.Len(found.Approvals, 1)
}

func (s *InMemoryErasureStoreSuite) TestExecuteCallbackErrorDiscardsMutations() {
	manager := id.NewUserID()
	req := s.newRequest(manager)

	err := s.store.Execute(s.ctx, req.ID, func(_ context.Context, r *models.ErasureRequest) error {
		r.Status = models.StatusApproved
		return sentinel.ErrConflict
	})
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	found, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, found.Status, "failed callback must not leak state")
}

func (s *InMemoryErasureStoreSuite) TestFindReturnsCopies() {
	req := s.newRequest(id.NewUserID())

	found, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	found.Status = models.StatusRejected
	for p := range found.ProgramsRequired {
		found.ProgramsRequired[p] = nil
	}

	again, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, again.Status)
	for _, users := range again.ProgramsRequired {
		s.NotEmpty(users)
	}
}
