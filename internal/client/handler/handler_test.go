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
	"caseguard/internal/client/models"
	"caseguard/internal/client/service"
	clientstore "caseguard/internal/client/store/client"
	"caseguard/internal/jwtauth"
	"caseguard/internal/match"
	programModel "caseguard/internal/program/models"
	programstore "caseguard/internal/program/store/program"
	scopeModel "caseguard/internal/scope/models"
	scopeService "caseguard/internal/scope/service"
	blockstore "caseguard/internal/scope/store/block"
	rolestore "caseguard/internal/scope/store/role"
	id "caseguard/pkg/domain"
	"caseguard/pkg/fieldcrypt"
	"caseguard/pkg/platform/audit"
	auditmem "caseguard/pkg/platform/audit/store/memory"
)

var testJWT = jwtauth.NewJWTService("test-signing-key", "caseguard", "caseguard")

type env struct {
	router   http.Handler
	scope    *scopeService.Service
	programs *programstore.InMemoryStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	programs := programstore.NewInMemoryStore()
	publisher := audit.NewPublisher(auditmem.NewInMemoryStore())
	scope := scopeService.New(rolestore.NewInMemoryStore(), blockstore.NewInMemoryStore(), programs, publisher)
	bnd := boundary.New(scope, programs, 10)
	clients := clientstore.NewInMemoryStore()
	codec, err := fieldcrypt.NewAESGCM(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	svc := service.New(clients, bnd, match.New(clients), programs, codec, publisher)

	h := New(svc, slog.Default(), nil, jwtauth.NewJWTServiceAdapter(testJWT))
	r := chi.NewRouter()
	h.Register(r)
	return &env{router: r, scope: scope, programs: programs}
}

func (e *env) addProgram(t *testing.T, name string, c programModel.Confidentiality) id.ProgramID {
	t.Helper()
	p, err := programModel.NewProgram(id.NewProgramID(), name, c, time.Now())
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

func (e *env) do(t *testing.T, userID id.UserID, method, path string, body any) *httptest.ResponseRecorder {
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
	token, err := testJWT.GenerateAccessToken(userID, false, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) createClient(t *testing.T, userID id.UserID, programID id.ProgramID, first, dob, phone string) string {
	t.Helper()
	rec := e.do(t, userID, http.MethodPost, "/clients", map[string]any{
		"program_id": programID.String(),
		"identity": map[string]string{
			"first_name": first,
			"last_name":  "Rivera",
			"dob":        dob,
			"phone":      phone,
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Client struct {
			ID string `json:"id"`
		} `json:"client"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Client.ID
}

func TestCreateClient(t *testing.T) {
	e := newEnv(t)
	programID := e.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	userID := e.addUser(t, programID, scopeModel.RoleFrontDesk)

	rec := e.do(t, userID, http.MethodPost, "/clients", map[string]any{
		"program_id": programID.String(),
		"identity": map[string]string{
			"first_name": "José",
			"last_name":  "Rivera",
			"dob":        "1990-04-12",
			"phone":      "555-123-4567",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Client struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Identity struct {
				FirstName string `json:"first_name"`
			} `json:"identity"`
		} `json:"client"`
		DuplicateCandidates []json.RawMessage `json:"duplicate_candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Client.Status != string(models.StatusActive) {
		t.Fatalf("expected active, got %s", resp.Client.Status)
	}
	if resp.Client.Identity.FirstName != "José" {
		t.Fatalf("unexpected identity: %+v", resp.Client.Identity)
	}
	if resp.DuplicateCandidates == nil || len(resp.DuplicateCandidates) != 0 {
		t.Fatalf("expected empty candidate list, got %v", resp.DuplicateCandidates)
	}
}

func TestCreateClient_ReturnsDuplicateCandidates(t *testing.T) {
	e := newEnv(t)
	programID := e.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	userID := e.addUser(t, programID, scopeModel.RoleFrontDesk)

	existing := e.createClient(t, userID, programID, "José", "1990-04-12", "(555) 123-4567")

	rec := e.do(t, userID, http.MethodPost, "/clients", map[string]any{
		"program_id": programID.String(),
		"identity": map[string]string{
			"first_name": "Jose",
			"last_name":  "R",
			"dob":        "1991-01-01",
			"phone":      "555.123.4567",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		DuplicateCandidates []struct {
			ClientID   string `json:"client_id"`
			MatchedOn  string `json:"matched_on"`
			Confidence string `json:"confidence"`
		} `json:"duplicate_candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.DuplicateCandidates) != 1 {
		t.Fatalf("expected one candidate, got %+v", resp.DuplicateCandidates)
	}
	c := resp.DuplicateCandidates[0]
	if c.ClientID != existing || c.MatchedOn != "phone" || c.Confidence != "high" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestCreateClient_RequiresAuth(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateClient_ForbiddenCarriesNoReason(t *testing.T) {
	e := newEnv(t)
	programID := e.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	other := e.addProgram(t, "Meals", programModel.ConfidentialityStandard)
	userID := e.addUser(t, other, scopeModel.RoleProgramManager)

	rec := e.do(t, userID, http.MethodPost, "/clients", map[string]any{
		"program_id": programID.String(),
		"identity":   map[string]string{"first_name": "Ana", "last_name": "Rivera"},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := body["error_description"]; ok {
		t.Fatalf("forbidden response must not carry a description: %s", rec.Body.String())
	}
}

func TestGetClient_NotFoundIsIndistinguishable(t *testing.T) {
	e := newEnv(t)
	outreach := e.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	crisis := e.addProgram(t, "Crisis Support", programModel.ConfidentialityConfidential)
	outsider := e.addUser(t, outreach, scopeModel.RoleProgramManager)
	insider := e.addUser(t, crisis, scopeModel.RoleDirectService)

	hiddenID := e.createClient(t, insider, crisis, "José", "1990-04-12", "")

	recExcluded := e.do(t, outsider, http.MethodGet, "/clients/"+hiddenID, nil)
	recAbsent := e.do(t, outsider, http.MethodGet, "/clients/"+id.NewClientID().String(), nil)

	if recExcluded.Code != http.StatusNotFound || recAbsent.Code != http.StatusNotFound {
		t.Fatalf("expected 404/404, got %d/%d", recExcluded.Code, recAbsent.Code)
	}
	// Byte-identical bodies: response shape cannot reveal record existence.
	if !bytes.Equal(recExcluded.Body.Bytes(), recAbsent.Body.Bytes()) {
		t.Fatalf("404 bodies differ: %q vs %q", recExcluded.Body.String(), recAbsent.Body.String())
	}
}

func TestChangeStatus(t *testing.T) {
	e := newEnv(t)
	programID := e.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	userID := e.addUser(t, programID, scopeModel.RoleDirectService)

	clientID := e.createClient(t, userID, programID, "Ana", "1985-01-01", "")

	rec := e.do(t, userID, http.MethodPost, "/clients/"+clientID+"/status", map[string]string{"status": "inactive"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, userID, http.MethodPost, "/clients/"+clientID+"/status", map[string]string{"status": "inactive"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for no-op transition, got %d", rec.Code)
	}

	rec = e.do(t, userID, http.MethodPost, "/clients/"+clientID+"/status", map[string]string{"status": "erased"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestEnrolments(t *testing.T) {
	e := newEnv(t)
	outreach := e.addProgram(t, "Outreach", programModel.ConfidentialityStandard)
	meals := e.addProgram(t, "Meals", programModel.ConfidentialityStandard)
	userID := e.addUser(t, outreach, scopeModel.RoleDirectService)
	if _, err := e.scope.AssignRole(context.Background(), userID, meals, scopeModel.RoleDirectService); err != nil {
		t.Fatalf("assign role: %v", err)
	}

	clientID := e.createClient(t, userID, outreach, "Ana", "1985-01-01", "")

	rec := e.do(t, userID, http.MethodPost, "/clients/"+clientID+"/enrolments", map[string]string{"program_id": meals.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, userID, http.MethodDelete, "/clients/"+clientID+"/enrolments/"+outreach.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, userID, http.MethodDelete, "/clients/"+clientID+"/enrolments/"+meals.String(), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 withdrawing last enrolment, got %d", rec.Code)
	}
}
