package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"caseguard/internal/erasure/models"
	"caseguard/internal/platform/metrics"
	"caseguard/internal/platform/middleware"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
	"caseguard/pkg/platform/httputil"
)

// Service defines the erasure governance operations the handler exposes.
type Service interface {
	Create(ctx context.Context, clientID id.ClientID, reason string) (*models.ErasureRequest, error)
	Get(ctx context.Context, requestID id.ErasureRequestID) (*models.ErasureRequest, error)
	Approve(ctx context.Context, requestID id.ErasureRequestID, programID id.ProgramID, note string) (*models.ErasureRequest, error)
	Reject(ctx context.Context, requestID id.ErasureRequestID, programID id.ProgramID, note string) (*models.ErasureRequest, error)
	FallbackApprove(ctx context.Context, requestID id.ErasureRequestID, programID id.ProgramID, note string) (*models.ErasureRequest, error)
	Retry(ctx context.Context, requestID id.ErasureRequestID) (*models.ErasureRequest, error)
}

// Handler exposes the erasure request lifecycle over HTTP. All routes are
// user-token routes: fallback approval authorizes on the admin claim inside
// the service, not on the shared admin token, so the decision is always
// attributable to a user identity.
type Handler struct {
	logger       *slog.Logger
	erasure      Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new erasure Handler.
func New(erasure Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		erasure:      erasure,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register registers the erasure routes with the chi router.
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
	router.Get("/{requestID}", h.handleGet)
	router.Post("/{requestID}/approve", h.handleApprove)
	router.Post("/{requestID}/reject", h.handleReject)
	router.Post("/{requestID}/fallback-approve", h.handleFallbackApprove)
	router.Post("/{requestID}/execute", h.handleRetry)

	r.Mount("/erasure-requests", router)
}

type approvalView struct {
	ProgramID  string `json:"program_id,omitempty"`
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	Note       string `json:"note,omitempty"`
	Fallback   bool   `json:"fallback,omitempty"`
	DecidedAt  string `json:"decided_at"`
}

type requestView struct {
	ID               string         `json:"id"`
	ClientID         string         `json:"client_id,omitempty"`
	RequestedBy      string         `json:"requested_by"`
	Reason           string         `json:"reason,omitempty"`
	Status           string         `json:"status"`
	ProgramsRequired []string       `json:"programs_required"`
	ProgramsPending  []string       `json:"programs_pending"`
	Approvals        []approvalView `json:"approvals"`
	DataSummary      map[string]int `json:"data_summary,omitempty"`
	CreatedAt        string         `json:"created_at"`
	ExecutedAt       string         `json:"executed_at,omitempty"`
}

func toView(req *models.ErasureRequest) requestView {
	v := requestView{
		ID:               req.ID.String(),
		RequestedBy:      req.RequestedBy.String(),
		Reason:           req.Reason,
		Status:           string(req.Status),
		ProgramsRequired: []string{},
		ProgramsPending:  []string{},
		Approvals:        []approvalView{},
		DataSummary:      req.DataSummary,
		CreatedAt:        req.CreatedAt.Format(time.RFC3339),
	}
	if !req.ClientID.IsNil() {
		v.ClientID = req.ClientID.String()
	}
	for _, p := range req.RequiredProgramIDs() {
		v.ProgramsRequired = append(v.ProgramsRequired, p.String())
	}
	for _, p := range req.PendingPrograms() {
		v.ProgramsPending = append(v.ProgramsPending, p.String())
	}
	for _, a := range req.Approvals {
		av := approvalView{
			ApproverID: a.ApproverID.String(),
			Decision:   string(a.Decision),
			Note:       a.Note,
			Fallback:   a.Fallback,
			DecidedAt:  a.DecidedAt.Format(time.RFC3339),
		}
		if !a.ProgramID.IsNil() {
			av.ProgramID = a.ProgramID.String()
		}
		v.Approvals = append(v.Approvals, av)
	}
	if req.ExecutedAt != nil {
		v.ExecutedAt = req.ExecutedAt.Format(time.RFC3339)
	}
	return v
}

type createRequest struct {
	ClientID string `json:"client_id"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	clientID, err := id.ParseClientID(req.ClientID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := h.erasure.Create(ctx, clientID, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to create erasure request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toView(created))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID, err := id.ParseErasureRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "erasure request not found"))
		return
	}
	req, err := h.erasure.Get(ctx, requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toView(req))
}

type decisionRequest struct {
	ProgramID string `json:"program_id"`
	Note      string `json:"note"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.erasure.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.erasure.Reject)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, requestID id.ErasureRequestID, programID id.ProgramID, note string) (*models.ErasureRequest, error)) {
	ctx := r.Context()

	requestID, err := id.ParseErasureRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "erasure request not found"))
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	programID, err := id.ParseProgramID(req.ProgramID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	updated, err := decide(ctx, requestID, programID, req.Note)
	if err != nil {
		h.logger.WarnContext(ctx, "erasure decision failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toView(updated))
}

type fallbackRequest struct {
	ProgramID string `json:"program_id"`
	Note      string `json:"note"`
}

func (h *Handler) handleFallbackApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID, err := id.ParseErasureRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "erasure request not found"))
		return
	}
	var req fallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	programID, err := id.ParseProgramID(req.ProgramID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	updated, err := h.erasure.FallbackApprove(ctx, requestID, programID, req.Note)
	if err != nil {
		h.logger.WarnContext(ctx, "fallback approval failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toView(updated))
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID, err := id.ParseErasureRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "erasure request not found"))
		return
	}

	updated, err := h.erasure.Retry(ctx, requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toView(updated))
}
