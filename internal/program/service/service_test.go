package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseguard/internal/program/models"
	programstore "caseguard/internal/program/store/program"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
	"caseguard/pkg/platform/audit"
	auditmem "caseguard/pkg/platform/audit/store/memory"
	"caseguard/pkg/requestcontext"
)

func newTestService(t *testing.T) (*Service, *auditmem.InMemoryStore) {
	t.Helper()
	auditStore := auditmem.NewInMemoryStore()
	svc := New(programstore.NewInMemoryStore(), audit.NewPublisher(auditStore))
	return svc, auditStore
}

func Test_CreateProgram(t *testing.T) {
	svc, auditStore := newTestService(t)
	actor := id.NewUserID()
	ctx := requestcontext.WithUserID(context.Background(), actor)

	p, err := svc.CreateProgram(ctx, "Housing First", models.ConfidentialityStandard)
	require.NoError(t, err)
	assert.Equal(t, "Housing First", p.Name)
	assert.False(t, p.IsConfidential())

	events := auditStore.ByAction(audit.EventProgramCreated)
	require.Len(t, events, 1)
	assert.Equal(t, actor, events[0].ActorID)
	assert.Equal(t, p.ID, events[0].ProgramID)

	_, err = svc.CreateProgram(ctx, "Housing First", models.ConfidentialityStandard)
	require.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = svc.CreateProgram(ctx, "", models.ConfidentialityStandard)
	require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func Test_CreateProgram_AuditFailureFailsClosed(t *testing.T) {
	svc, auditStore := newTestService(t)
	auditStore.FailNextAppend(errors.New("sink down"))

	_, err := svc.CreateProgram(context.Background(), "Outreach", models.ConfidentialityStandard)
	require.True(t, dErrors.HasCode(err, dErrors.CodeAuditWriteFailed))
}

func Test_MarkConfidential(t *testing.T) {
	svc, auditStore := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateProgram(ctx, "DV Shelter", models.ConfidentialityStandard)
	require.NoError(t, err)

	updated, err := svc.MarkConfidential(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsConfidential())
	require.Len(t, auditStore.ByAction(audit.EventProgramMarkedConfidential), 1)

	// A second upgrade is a conflict, not a silent no-op: callers should
	// know the classification they tried to set was already in force.
	_, err = svc.MarkConfidential(ctx, p.ID)
	require.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = svc.MarkConfidential(ctx, id.NewProgramID())
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func Test_GetAndListPrograms(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateProgram(ctx, "Counseling", models.ConfidentialityConfidential)
	require.NoError(t, err)

	got, err := svc.GetProgram(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsConfidential())

	_, err = svc.GetProgram(ctx, id.NewProgramID())
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	listed, err := svc.ListPrograms(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}
