package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"caseguard/internal/boundary"
	clientModel "caseguard/internal/client/models"
	clientstore "caseguard/internal/client/store/client"
	"caseguard/internal/erasure/service"
	erasurestore "caseguard/internal/erasure/store/erasure"
	"caseguard/internal/jwtauth"
	"caseguard/internal/notify"
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

var testJWT = jwtauth.NewJWTService("test-signing-key", "caseguard", "caseguard")

type env struct {
	router   http.Handler
	scope    *scopeService.Service
	programs *programstore.InMemoryStore
	clients  *clientstore.InMemoryStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	programs := programstore.NewInMemoryStore()
	publisher := audit.NewPublisher(auditmem.NewInMemoryStore())
	scope := scopeService.New(rolestore.NewInMemoryStore(), blockstore.NewInMemoryStore(), programs, publisher)
	bnd := boundary.New(scope, programs, 10)
	clients := clientstore.NewInMemoryStore()
	svc := service.New(erasurestore.NewInMemoryStore(), clients, bnd, scope, publisher, notify.NewInMemoryQueue())

	h := New(svc, slog.Default(), nil, jwtauth.NewJWTServiceAdapter(testJWT))
	r := chi.NewRouter()
	h.Register(r)
	return &env{router: r, scope: scope, programs: programs, clients: clients}
}

func (e *env) addProgram(t *testing.T, name string) id.ProgramID {
	t.Helper()
	p, err := programModel.NewProgram(id.NewProgramID(), name, programModel.ConfidentialityStandard, time.Now())
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	if err := e.programs.CreateIfNameAvailable(context.Background(), p); err != nil {
		t.Fatalf("create program: %v", err)
	}
	return p.ID
}

func (e *env) addUser(t *testing.T, programID id.ProgramID, role scopeModel.Role) id.UserID {
	t.Helper()
	userID := id.NewUserID()
	if _, err := e.scope.AssignRole(context.Background(), userID, programID, role); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	return userID
}

func (e *env) addClient(t *testing.T, programs ...id.ProgramID) id.ClientID {
	t.Helper()
	c := clientModel.NewClientFile(id.NewClientID(), []byte("sealed"), "pk", "nk", programs[0], id.NewUserID(), time.Now())
	for _, p := range programs[1:] {
		c.Enrolments = append(c.Enrolments, p)
	}
	if err := e.clients.Create(context.Background(), c); err != nil {
		t.Fatalf("create client: %v", err)
	}
	return c.ID
}

func (e *env) do(t *testing.T, userID id.UserID, admin bool, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := testJWT.GenerateAccessToken(userID, admin, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type view struct {
	ID               string         `json:"id"`
	ClientID         string         `json:"client_id"`
	Status           string         `json:"status"`
	ProgramsRequired []string       `json:"programs_required"`
	ProgramsPending  []string       `json:"programs_pending"`
	DataSummary      map[string]int `json:"data_summary"`
	ExecutedAt       string         `json:"executed_at"`
}

func (e *env) createRequest(t *testing.T, userID id.UserID, clientID id.ClientID) view {
	t.Helper()
	rec := e.do(t, userID, false, http.MethodPost, "/erasure-requests", map[string]string{
		"client_id": clientID.String(),
		"reason":    "client asked for erasure",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var v view
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) view {
	t.Helper()
	var v view
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestCreateRequest(t *testing.T) {
	e := newEnv(t)
	outreach := e.addProgram(t, "Outreach")
	meals := e.addProgram(t, "Meals")
	e.addUser(t, outreach, scopeModel.RoleProgramManager)
	e.addUser(t, meals, scopeModel.RoleProgramManager)
	requester := e.addUser(t, outreach, scopeModel.RoleDirectService)
	clientID := e.addClient(t, outreach, meals)

	v := e.createRequest(t, requester, clientID)
	if v.Status != "pending" {
		t.Fatalf("expected pending, got %s", v.Status)
	}
	if v.ClientID != clientID.String() {
		t.Fatalf("unexpected client_id: %s", v.ClientID)
	}
	if len(v.ProgramsRequired) != 2 || len(v.ProgramsPending) != 2 {
		t.Fatalf("expected both programs required and pending, got %+v", v)
	}
}

func TestApprovalFlowExecutes(t *testing.T) {
	e := newEnv(t)
	outreach := e.addProgram(t, "Outreach")
	meals := e.addProgram(t, "Meals")
	managerA := e.addUser(t, outreach, scopeModel.RoleProgramManager)
	managerB := e.addUser(t, meals, scopeModel.RoleProgramManager)
	requester := e.addUser(t, outreach, scopeModel.RoleDirectService)
	clientID := e.addClient(t, outreach, meals)

	v := e.createRequest(t, requester, clientID)

	rec := e.do(t, managerA, false, http.MethodPost, "/erasure-requests/"+v.ID+"/approve", map[string]string{"program_id": outreach.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	mid := decode(t, rec)
	if mid.Status != "pending" || len(mid.ProgramsPending) != 1 {
		t.Fatalf("expected one pending program, got %+v", mid)
	}

	rec = e.do(t, managerB, false, http.MethodPost, "/erasure-requests/"+v.ID+"/approve", map[string]string{"program_id": meals.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	final := decode(t, rec)
	if final.Status != "approved" || final.ExecutedAt == "" {
		t.Fatalf("expected executed request, got %+v", final)
	}
	if final.ClientID != "" {
		t.Fatalf("client reference must be nulled after execution: %+v", final)
	}
	if final.DataSummary["client_files"] != 1 || final.DataSummary["enrolments"] != 2 {
		t.Fatalf("unexpected data summary: %+v", final.DataSummary)
	}
}

func TestRejectResolvesRequest(t *testing.T) {
	e := newEnv(t)
	outreach := e.addProgram(t, "Outreach")
	meals := e.addProgram(t, "Meals")
	managerA := e.addUser(t, outreach, scopeModel.RoleProgramManager)
	managerB := e.addUser(t, meals, scopeModel.RoleProgramManager)
	requester := e.addUser(t, outreach, scopeModel.RoleDirectService)
	clientID := e.addClient(t, outreach, meals)

	v := e.createRequest(t, requester, clientID)

	rec := e.do(t, managerB, false, http.MethodPost, "/erasure-requests/"+v.ID+"/reject", map[string]string{
		"program_id": meals.String(),
		"note":       "records under legal hold",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec).Status; got != "rejected" {
		t.Fatalf("expected rejected, got %s", got)
	}

	rec = e.do(t, managerA, false, http.MethodPost, "/erasure-requests/"+v.ID+"/approve", map[string]string{"program_id": outreach.String()})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 after rejection, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFallbackApproveRequiresAdminClaim(t *testing.T) {
	e := newEnv(t)
	outreach := e.addProgram(t, "Outreach")
	// The requester is the sole manager, so the request deadlocks at creation.
	requester := e.addUser(t, outreach, scopeModel.RoleProgramManager)
	clientID := e.addClient(t, outreach)

	v := e.createRequest(t, requester, clientID)
	if v.Status != "deadlocked" {
		t.Fatalf("expected deadlocked, got %s", v.Status)
	}

	rec := e.do(t, id.NewUserID(), false, http.MethodPost, "/erasure-requests/"+v.ID+"/fallback-approve", map[string]string{
		"program_id": outreach.String(),
		"note":       "review",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin claim, got %d", rec.Code)
	}

	rec = e.do(t, id.NewUserID(), true, http.MethodPost, "/erasure-requests/"+v.ID+"/fallback-approve", map[string]string{
		"program_id": outreach.String(),
		"note":       "deadlock review complete",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	final := decode(t, rec)
	if final.Status != "approved" || final.ExecutedAt == "" {
		t.Fatalf("expected executed request, got %+v", final)
	}
}

func TestFallbackApproveLeavesOtherProgramsPending(t *testing.T) {
	e := newEnv(t)
	outreach := e.addProgram(t, "Outreach")
	meals := e.addProgram(t, "Meals")
	// Outreach deadlocks (requester is its sole manager); Meals does not.
	requester := e.addUser(t, outreach, scopeModel.RoleProgramManager)
	managerB := e.addUser(t, meals, scopeModel.RoleProgramManager)
	clientID := e.addClient(t, outreach, meals)

	v := e.createRequest(t, requester, clientID)
	if v.Status != "deadlocked" {
		t.Fatalf("expected deadlocked, got %s", v.Status)
	}

	rec := e.do(t, id.NewUserID(), true, http.MethodPost, "/erasure-requests/"+v.ID+"/fallback-approve", map[string]string{
		"program_id": outreach.String(),
		"note":       "deadlock review complete",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	mid := decode(t, rec)
	if mid.Status != "deadlocked" || mid.ExecutedAt != "" {
		t.Fatalf("fallback alone must not execute: %+v", mid)
	}
	if len(mid.ProgramsPending) != 1 || mid.ProgramsPending[0] != meals.String() {
		t.Fatalf("expected Meals still pending, got %+v", mid.ProgramsPending)
	}

	rec = e.do(t, managerB, false, http.MethodPost, "/erasure-requests/"+v.ID+"/approve", map[string]string{"program_id": meals.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	final := decode(t, rec)
	if final.Status != "approved" || final.ExecutedAt == "" {
		t.Fatalf("expected executed request, got %+v", final)
	}
}

func TestGetRequest_NotFoundIsIndistinguishable(t *testing.T) {
	e := newEnv(t)
	outreach := e.addProgram(t, "Outreach")
	meals := e.addProgram(t, "Meals")
	e.addUser(t, outreach, scopeModel.RoleProgramManager)
	requester := e.addUser(t, outreach, scopeModel.RoleDirectService)
	outsider := e.addUser(t, meals, scopeModel.RoleProgramManager)
	clientID := e.addClient(t, outreach)

	v := e.createRequest(t, requester, clientID)

	recExisting := e.do(t, outsider, false, http.MethodGet, "/erasure-requests/"+v.ID, nil)
	recAbsent := e.do(t, outsider, false, http.MethodGet, "/erasure-requests/"+id.NewErasureRequestID().String(), nil)
	recGarbage := e.do(t, outsider, false, http.MethodGet, "/erasure-requests/not-a-uuid", nil)

	for _, rec := range []*httptest.ResponseRecorder{recExisting, recAbsent, recGarbage} {
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
		}
	}
	if !bytes.Equal(recExisting.Body.Bytes(), recAbsent.Body.Bytes()) || !bytes.Equal(recAbsent.Body.Bytes(), recGarbage.Body.Bytes()) {
		t.Fatalf("404 bodies differ: %q vs %q vs %q", recExisting.Body.String(), recAbsent.Body.String(), recGarbage.Body.String())
	}
}

func TestRequiresAuth(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/erasure-requests/"+id.NewErasureRequestID().String(), nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
