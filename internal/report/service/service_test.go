package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseguard/internal/boundary"
	clientModel "caseguard/internal/client/models"
	clientstore "caseguard/internal/client/store/client"
	programModel "caseguard/internal/program/models"
	programstore "caseguard/internal/program/store/program"
	scopeModel "caseguard/internal/scope/models"
	scopeService "caseguard/internal/scope/service"
	blockstore "caseguard/internal/scope/store/block"
	rolestore "caseguard/internal/scope/store/role"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/audit"
	auditmem "caseguard/pkg/platform/audit/store/memory"
)

type fixture struct {
	svc      *Service
	scope    *scopeService.Service
	programs *programstore.InMemoryStore
	clients  *clientstore.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	programs := programstore.NewInMemoryStore()
	publisher := audit.NewPublisher(auditmem.NewInMemoryStore())
	scope := scopeService.New(rolestore.NewInMemoryStore(), blockstore.NewInMemoryStore(), programs, publisher)
	bnd := boundary.New(scope, programs, 10)
	clients := clientstore.NewInMemoryStore()
	return &fixture{
		svc:      New(clients, bnd, programs),
		scope:    scope,
		programs: programs,
		clients:  clients,
	}
}

func (f *fixture) addProgram(t *testing.T, name string, c programModel.Confidentiality) id.ProgramID {
	t.Helper()
	p, err := programModel.NewProgram(id.NewProgramID(), name, c, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.programs.CreateIfNameAvailable(context.Background(), p))
	return p.ID
}

func (f *fixture) addUser(t *testing.T, role scopeModel.Role, programs ...id.ProgramID) id.UserID {
	t.Helper()
	userID := id.NewUserID()
	for _, p := range programs {
		_, err := f.scope.AssignRole(context.Background(), userID, p, role)
		require.NoError(t, err)
	}
	return userID
}

func (f *fixture) seedClients(t *testing.T, programID id.ProgramID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		c := clientModel.NewClientFile(id.NewClientID(), []byte("sealed"), "", "", programID, id.NewUserID(), time.Now())
		require.NoError(t, f.clients.Create(context.Background(), c))
	}
}

func Test_ProgramCounts(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	meals := f.addProgram(t, "Meals", programModel.ConfidentialityStandard)
	userID := f.addUser(t, scopeModel.RoleFrontDesk, outreach, meals)

	f.seedClients(t, outreach, 12)
	f.seedClients(t, meals, 3)

	rows, err := f.svc.ProgramCounts(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Sorted by program name.
	assert.Equal(t, "Meals", rows[0].ProgramName)
	assert.True(t, rows[0].ClientCount.Suppressed())
	assert.Equal(t, "< 10", rows[0].ClientCount.String())

	assert.Equal(t, "Outreach", rows[1].ProgramName)
	assert.False(t, rows[1].ClientCount.Suppressed())
	assert.Equal(t, "12", rows[1].ClientCount.String())
}

func Test_ProgramCounts_SuppressedValueNeverSerializesExactly(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	userID := f.addUser(t, scopeModel.RoleProgramManager, outreach)

	f.seedClients(t, outreach, 7)

	rows, err := f.svc.ProgramCounts(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	encoded, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"client_count":"< 10"`)
	assert.NotContains(t, string(encoded), "7")

	_, exact := rows[0].ClientCount.Exact()
	assert.False(t, exact)
}

func Test_ProgramCounts_LimitedToCallersPrograms(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	crisis := f.addProgram(t, "Crisis Support", programModel.ConfidentialityConfidential)
	member := f.addUser(t, scopeModel.RoleDirectService, crisis)
	outsider := f.addUser(t, scopeModel.RoleProgramManager, outreach)

	f.seedClients(t, crisis, 15)

	// A confidential program reports to its own members, suppressed like any
	// other program.
	rows, err := f.svc.ProgramCounts(context.Background(), member)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Crisis Support", rows[0].ProgramName)
	assert.Equal(t, "15", rows[0].ClientCount.String())

	// Outsiders never see a row for it, not even a suppressed one.
	rows, err = f.svc.ProgramCounts(context.Background(), outsider)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Outreach", rows[0].ProgramName)
}

func Test_ProgramCounts_NoRolesMeansNoRows(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	f.seedClients(t, outreach, 20)

	rows, err := f.svc.ProgramCounts(context.Background(), id.NewUserID())
	require.NoError(t, err)
	assert.Empty(t, rows)
}
