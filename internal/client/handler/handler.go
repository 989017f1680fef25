package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"caseguard/internal/client/models"
	"caseguard/internal/client/service"
	"caseguard/internal/match"
	"caseguard/internal/platform/metrics"
	"caseguard/internal/platform/middleware"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
	"caseguard/pkg/platform/httputil"
)

// Service defines the client lifecycle operations the handler exposes.
type Service interface {
	Create(ctx context.Context, programID id.ProgramID, identity models.Identity) (*service.Record, []match.Candidate, error)
	Get(ctx context.Context, clientID id.ClientID) (*service.Record, error)
	List(ctx context.Context, limit, offset int) ([]*service.Record, error)
	ChangeStatus(ctx context.Context, clientID id.ClientID, to models.ClientStatus) (*service.Record, error)
	Enrol(ctx context.Context, clientID id.ClientID, programID id.ProgramID) (*service.Record, error)
	Withdraw(ctx context.Context, clientID id.ClientID, programID id.ProgramID) (*service.Record, error)
}

// Handler exposes the client file endpoints. Every route requires a user
// token; there is no admin surface here because the administrative flag
// grants no client data access.
type Handler struct {
	logger       *slog.Logger
	clients      Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new client Handler.
func New(clients Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		clients:      clients,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register registers the client routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Post("/", h.handleCreate)
	router.Get("/", h.handleList)
	router.Get("/{clientID}", h.handleGet)
	router.Post("/{clientID}/status", h.handleChangeStatus)
	router.Post("/{clientID}/enrolments", h.handleEnrol)
	router.Delete("/{clientID}/enrolments/{programID}", h.handleWithdraw)

	r.Mount("/clients", router)
}

type createRequest struct {
	ProgramID string          `json:"program_id"`
	Identity  models.Identity `json:"identity"`
}

type createResponse struct {
	Client *service.Record `json:"client"`
	// DuplicateCandidates is advisory. It is always present (possibly empty)
	// so clients can rely on the shape.
	DuplicateCandidates []match.Candidate `json:"duplicate_candidates"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	programID, err := id.ParseProgramID(req.ProgramID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, candidates, err := h.clients.Create(ctx, programID, req.Identity)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to create client",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	if candidates == nil {
		candidates = []match.Candidate{}
	}
	httputil.WriteJSON(w, http.StatusCreated, createResponse{Client: rec, DuplicateCandidates: candidates})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	records, err := h.clients.List(ctx, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []*service.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"clients": records})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID, err := id.ParseClientID(chi.URLParam(r, "clientID"))
	if err != nil {
		// Unparsable IDs get the same response as absent ones.
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "client not found"))
		return
	}

	rec, err := h.clients.Get(ctx, clientID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID, err := id.ParseClientID(chi.URLParam(r, "clientID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "client not found"))
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.clients.ChangeStatus(ctx, clientID, status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

type enrolRequest struct {
	ProgramID string `json:"program_id"`
}

func (h *Handler) handleEnrol(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID, err := id.ParseClientID(chi.URLParam(r, "clientID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "client not found"))
		return
	}
	var req enrolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	programID, err := id.ParseProgramID(req.ProgramID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.clients.Enrol(ctx, clientID, programID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID, err := id.ParseClientID(chi.URLParam(r, "clientID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "client not found"))
		return
	}
	programID, err := id.ParseProgramID(chi.URLParam(r, "programID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.clients.Withdraw(ctx, clientID, programID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
