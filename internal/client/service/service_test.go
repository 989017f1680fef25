package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseguard/internal/boundary"
	clientstore "caseguard/internal/client/store/client"
	"caseguard/internal/match"
	programModel "caseguard/internal/program/models"
	programstore "caseguard/internal/program/store/program"
	scopeModel "caseguard/internal/scope/models"
	scopeService "caseguard/internal/scope/service"
	blockstore "caseguard/internal/scope/store/block"
	rolestore "caseguard/internal/scope/store/role"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
	"caseguard/pkg/fieldcrypt"
	"caseguard/pkg/platform/audit"
	auditmem "caseguard/pkg/platform/audit/store/memory"
	"caseguard/pkg/requestcontext"

	"caseguard/internal/client/models"
)

type fixture struct {
	svc      *Service
	scope    *scopeService.Service
	programs *programstore.InMemoryStore
	clients  *clientstore.InMemoryStore
	audits   *auditmem.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	programs := programstore.NewInMemoryStore()
	audits := auditmem.NewInMemoryStore()
	publisher := audit.NewPublisher(audits)
	scope := scopeService.New(rolestore.NewInMemoryStore(), blockstore.NewInMemoryStore(), programs, publisher)
	bnd := boundary.New(scope, programs, 10)
	clients := clientstore.NewInMemoryStore()
	codec, err := fieldcrypt.NewAESGCM(bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)

	return &fixture{
		svc:      New(clients, bnd, match.New(clients), programs, codec, publisher),
		scope:    scope,
		programs: programs,
		clients:  clients,
		audits:   audits,
	}
}

func (f *fixture) addProgram(t *testing.T, name string, c programModel.Confidentiality) id.ProgramID {
	t.Helper()
	p, err := programModel.NewProgram(id.NewProgramID(), name, c, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.programs.CreateIfNameAvailable(context.Background(), p))
	return p.ID
}

func (f *fixture) addUser(t *testing.T, programID id.ProgramID, role scopeModel.Role) (id.UserID, context.Context) {
	t.Helper()
	userID := id.NewUserID()
	_, err := f.scope.AssignRole(context.Background(), userID, programID, role)
	require.NoError(t, err)
	return userID, requestcontext.WithUserID(context.Background(), userID)
}

func identity(first, dob, phone string) models.Identity {
	return models.Identity{FirstName: first, LastName: "Rivera", DOB: dob, Phone: phone}
}

func Test_Create_ReturnsRecordAndAudits(t *testing.T) {
	f := newFixture(t)
	programID := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	userID, ctx := f.addUser(t, programID, scopeModel.RoleFrontDesk)

	rec, candidates, err := f.svc.Create(ctx, programID, identity("José", "1990-04-12", "555-123-4567"))
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Equal(t, models.StatusActive, rec.Status)
	assert.Equal(t, "José", rec.Identity.FirstName)
	assert.Equal(t, []id.ProgramID{programID}, rec.Enrolments)

	events := f.audits.ByAction(audit.EventClientCreated)
	require.Len(t, events, 1)
	assert.Equal(t, userID, events[0].ActorID)
	assert.Equal(t, rec.ID, events[0].ClientID)
}

func Test_Create_IdentitySealedAtRest(t *testing.T) {
	f := newFixture(t)
	programID := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	_, ctx := f.addUser(t, programID, scopeModel.RoleFrontDesk)

	rec, _, err := f.svc.Create(ctx, programID, identity("José", "1990-04-12", "555-123-4567"))
	require.NoError(t, err)

	stored, err := f.clients.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(stored.Sealed), "José")
	assert.NotContains(t, string(stored.Sealed), "1990-04-12")
	assert.NotEmpty(t, stored.PhoneKey)
	assert.NotEmpty(t, stored.NameDOBKey)
}

func Test_Create_ForbiddenWithoutRoleInProgram(t *testing.T) {
	f := newFixture(t)
	programID := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	otherProgram := f.addProgram(t, "Meals", programModel.ConfidentialityStandard)
	_, ctx := f.addUser(t, otherProgram, scopeModel.RoleProgramManager)

	_, _, err := f.svc.Create(ctx, programID, identity("Ana", "1985-01-01", ""))
	require.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	assert.Empty(t, f.audits.ByAction(audit.EventClientCreated))
}

func Test_Create_FlagsDuplicatesAcrossPrograms(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	meals := f.addProgram(t, "Meals", programModel.ConfidentialityStandard)
	_, outreachCtx := f.addUser(t, outreach, scopeModel.RoleFrontDesk)
	_, mealsCtx := f.addUser(t, meals, scopeModel.RoleFrontDesk)

	existing, _, err := f.svc.Create(outreachCtx, outreach, identity("José", "1990-04-12", "(555) 123-4567"))
	require.NoError(t, err)

	// Same phone, other program, other spelling: still tier 1.
	rec, candidates, err := f.svc.Create(mealsCtx, meals, identity("Jose", "1991-01-01", "555.123.4567"))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, existing.ID, candidates[0].ClientID)
	assert.Equal(t, match.ConfidenceHigh, candidates[0].Confidence)

	// Advisory: the create still happened.
	assert.NotEqual(t, existing.ID, rec.ID)
}

func Test_Create_ConfidentialEnrolmentsNeverSurfaceAsCandidates(t *testing.T) {
	f := newFixture(t)
	crisis := f.addProgram(t, "Crisis Support", programModel.ConfidentialityConfidential)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	_, crisisCtx := f.addUser(t, crisis, scopeModel.RoleDirectService)
	_, outreachCtx := f.addUser(t, outreach, scopeModel.RoleFrontDesk)

	_, _, err := f.svc.Create(crisisCtx, crisis, identity("José", "1990-04-12", "555-123-4567"))
	require.NoError(t, err)

	_, candidates, err := f.svc.Create(outreachCtx, outreach, identity("Jose", "1990-04-12", "555-123-4567"))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func Test_Create_ConfidentialIntakeSkipsMatching(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	crisis := f.addProgram(t, "Crisis Support", programModel.ConfidentialityConfidential)
	_, outreachCtx := f.addUser(t, outreach, scopeModel.RoleFrontDesk)
	_, crisisCtx := f.addUser(t, crisis, scopeModel.RoleDirectService)

	_, _, err := f.svc.Create(outreachCtx, outreach, identity("José", "1990-04-12", "555-123-4567"))
	require.NoError(t, err)

	// Intake into a confidential program never consults the matcher, even
	// when a standard-pool record would have matched.
	_, candidates, err := f.svc.Create(crisisCtx, crisis, identity("Jose", "1990-04-12", "555-123-4567"))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func Test_Create_AuditFailurePropagates(t *testing.T) {
	f := newFixture(t)
	programID := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	_, ctx := f.addUser(t, programID, scopeModel.RoleFrontDesk)

	f.audits.FailNextAppend(errors.New("sink down"))
	_, _, err := f.svc.Create(ctx, programID, identity("Ana", "1985-01-01", ""))
	require.True(t, dErrors.HasCode(err, dErrors.CodeAuditWriteFailed))
}

func Test_Create_ValidatesIdentity(t *testing.T) {
	f := newFixture(t)
	programID := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	_, ctx := f.addUser(t, programID, scopeModel.RoleFrontDesk)

	_, _, err := f.svc.Create(ctx, programID, models.Identity{FirstName: "Ana"})
	require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, _, err = f.svc.Create(ctx, programID, identity("Ana", "not-a-date", ""))
	require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func Test_Get_UniformNotFound(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	crisis := f.addProgram(t, "Crisis Support", programModel.ConfidentialityConfidential)
	_, outreachCtx := f.addUser(t, outreach, scopeModel.RoleProgramManager)
	_, crisisCtx := f.addUser(t, crisis, scopeModel.RoleDirectService)

	hidden, _, err := f.svc.Create(crisisCtx, crisis, identity("José", "1990-04-12", ""))
	require.NoError(t, err)

	_, errExcluded := f.svc.Get(outreachCtx, hidden.ID)
	_, errAbsent := f.svc.Get(outreachCtx, id.NewClientID())
	require.True(t, dErrors.HasCode(errExcluded, dErrors.CodeNotFound))
	require.True(t, dErrors.HasCode(errAbsent, dErrors.CodeNotFound))
	// Indistinguishable: a caller cannot learn whether the record exists.
	assert.Equal(t, errAbsent.Error(), errExcluded.Error())
}

func Test_List_RespectsScope(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	meals := f.addProgram(t, "Meals", programModel.ConfidentialityStandard)
	_, outreachCtx := f.addUser(t, outreach, scopeModel.RoleFrontDesk)
	_, mealsCtx := f.addUser(t, meals, scopeModel.RoleFrontDesk)

	mine, _, err := f.svc.Create(outreachCtx, outreach, identity("Ana", "1985-01-01", ""))
	require.NoError(t, err)
	_, _, err = f.svc.Create(mealsCtx, meals, identity("Ben", "1986-02-02", ""))
	require.NoError(t, err)

	listed, err := f.svc.List(outreachCtx, 50, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, mine.ID, listed[0].ID)
	assert.Equal(t, "Ana", listed[0].Identity.FirstName)
}

func Test_ChangeStatus_RequiresDirectService(t *testing.T) {
	f := newFixture(t)
	programID := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	_, deskCtx := f.addUser(t, programID, scopeModel.RoleFrontDesk)
	_, serviceCtx := f.addUser(t, programID, scopeModel.RoleDirectService)

	rec, _, err := f.svc.Create(deskCtx, programID, identity("Ana", "1985-01-01", ""))
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(deskCtx, rec.ID, models.StatusInactive)
	require.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	updated, err := f.svc.ChangeStatus(serviceCtx, rec.ID, models.StatusInactive)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, updated.Status)

	events := f.audits.ByAction(audit.EventClientStatusChanged)
	require.Len(t, events, 1)
	assert.Equal(t, string(models.StatusInactive), events[0].Decision)
}

func Test_ChangeStatus_NoOpIsConflict(t *testing.T) {
	f := newFixture(t)
	programID := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	_, ctx := f.addUser(t, programID, scopeModel.RoleDirectService)

	rec, _, err := f.svc.Create(ctx, programID, identity("Ana", "1985-01-01", ""))
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, rec.ID, models.StatusActive)
	require.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func Test_ChangeStatus_InvisibleRecordIsNotFound(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	meals := f.addProgram(t, "Meals", programModel.ConfidentialityStandard)
	_, outreachCtx := f.addUser(t, outreach, scopeModel.RoleDirectService)
	_, mealsCtx := f.addUser(t, meals, scopeModel.RoleProgramManager)

	rec, _, err := f.svc.Create(outreachCtx, outreach, identity("Ana", "1985-01-01", ""))
	require.NoError(t, err)

	// Even a program manager in another program gets not-found, not forbidden.
	_, err = f.svc.ChangeStatus(mealsCtx, rec.ID, models.StatusInactive)
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func Test_EnrolAndWithdraw(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	meals := f.addProgram(t, "Meals", programModel.ConfidentialityStandard)
	userID := id.NewUserID()
	_, err := f.scope.AssignRole(context.Background(), userID, outreach, scopeModel.RoleDirectService)
	require.NoError(t, err)
	_, err = f.scope.AssignRole(context.Background(), userID, meals, scopeModel.RoleDirectService)
	require.NoError(t, err)
	ctx := requestcontext.WithUserID(context.Background(), userID)

	rec, _, err := f.svc.Create(ctx, outreach, identity("Ana", "1985-01-01", ""))
	require.NoError(t, err)

	enrolled, err := f.svc.Enrol(ctx, rec.ID, meals)
	require.NoError(t, err)
	assert.ElementsMatch(t, []id.ProgramID{outreach, meals}, enrolled.Enrolments)
	require.Len(t, f.audits.ByAction(audit.EventClientEnrolled), 1)

	_, err = f.svc.Enrol(ctx, rec.ID, meals)
	require.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	withdrawn, err := f.svc.Withdraw(ctx, rec.ID, outreach)
	require.NoError(t, err)
	assert.Equal(t, []id.ProgramID{meals}, withdrawn.Enrolments)

	_, err = f.svc.Withdraw(ctx, rec.ID, meals)
	require.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "last enrolment must stay")
}

func Test_Enrol_ForbiddenOutsideOwnPrograms(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	crisis := f.addProgram(t, "Crisis Support", programModel.ConfidentialityConfidential)
	_, ctx := f.addUser(t, outreach, scopeModel.RoleProgramManager)

	rec, _, err := f.svc.Create(ctx, outreach, identity("Ana", "1985-01-01", ""))
	require.NoError(t, err)

	_, err = f.svc.Enrol(ctx, rec.ID, crisis)
	require.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func Test_BlockedUserCannotReachClient(t *testing.T) {
	f := newFixture(t)
	programID := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	_, ctx := f.addUser(t, programID, scopeModel.RoleProgramManager)

	rec, _, err := f.svc.Create(ctx, programID, identity("Ana", "1985-01-01", ""))
	require.NoError(t, err)

	userID := requestcontext.UserID(ctx)
	require.NoError(t, f.scope.SetBlock(context.Background(), userID, rec.ID, "conflict of interest"))

	_, err = f.svc.Get(ctx, rec.ID)
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = f.svc.ChangeStatus(ctx, rec.ID, models.StatusInactive)
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	listed, err := f.svc.List(ctx, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func Test_Get_HidesConfidentialEnrolmentsFromOutsiders(t *testing.T) {
	f := newFixture(t)
	outreach := f.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	crisis := f.addProgram(t, "Crisis Support", programModel.ConfidentialityConfidential)
	_, deskCtx := f.addUser(t, outreach, scopeModel.RoleFrontDesk)
	crisisWorker, crisisCtx := f.addUser(t, crisis, scopeModel.RoleDirectService)
	_, err := f.scope.AssignRole(context.Background(), crisisWorker, outreach, scopeModel.RoleDirectService)
	require.NoError(t, err)

	rec, _, err := f.svc.Create(crisisCtx, outreach, identity("Ana", "1985-01-01", ""))
	require.NoError(t, err)
	_, err = f.svc.Enrol(crisisCtx, rec.ID, crisis)
	require.NoError(t, err)

	// The crisis worker sees both enrolments.
	full, err := f.svc.Get(crisisCtx, rec.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []id.ProgramID{outreach, crisis}, full.Enrolments)

	// The front-desk viewer reaches the record through the shared standard
	// program, and the record gives no hint of the confidential enrolment.
	partial, err := f.svc.Get(deskCtx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []id.ProgramID{outreach}, partial.Enrolments)

	listed, err := f.svc.List(deskCtx, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, []id.ProgramID{outreach}, listed[0].Enrolments)
}
