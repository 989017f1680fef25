package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"caseguard/internal/platform/metrics"
	"caseguard/internal/platform/middleware"
	programModel "caseguard/internal/program/models"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
	"caseguard/pkg/platform/httputil"
)

// Service defines the interface for program catalog operations.
type Service interface {
	CreateProgram(ctx context.Context, name string, confidentiality programModel.Confidentiality) (*programModel.Program, error)
	GetProgram(ctx context.Context, programID id.ProgramID) (*programModel.Program, error)
	ListPrograms(ctx context.Context) ([]*programModel.Program, error)
	MarkConfidential(ctx context.Context, programID id.ProgramID) (*programModel.Program, error)
}

// Handler handles program catalog endpoints. These are configuration
// surfaces guarded by the admin token, not by program roles.
type Handler struct {
	logger     *slog.Logger
	programs   Service
	metrics    *metrics.Metrics
	adminToken string
}

// New creates a new program Handler.
func New(programs Service, logger *slog.Logger, m *metrics.Metrics, adminToken string) *Handler {
	return &Handler{
		logger:     logger,
		programs:   programs,
		metrics:    m,
		adminToken: adminToken,
	}
}

// Register registers the program routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	programRouter := chi.NewRouter()
	programRouter.Use(middleware.Recovery(h.logger))
	programRouter.Use(middleware.RequestID)
	programRouter.Use(middleware.Logger(h.logger))
	programRouter.Use(middleware.Timeout(30 * time.Second))
	programRouter.Use(middleware.ContentTypeJSON)
	programRouter.Use(middleware.LatencyMiddleware(h.metrics))
	programRouter.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
	programRouter.Post("/", h.handleCreateProgram)
	programRouter.Get("/", h.handleListPrograms)
	programRouter.Get("/{programID}", h.handleGetProgram)
	programRouter.Post("/{programID}/confidential", h.handleMarkConfidential)

	r.Mount("/admin/programs", programRouter)
}

type createProgramRequest struct {
	Name            string `json:"name"`
	Confidentiality string `json:"confidentiality"`
}

func (h *Handler) handleCreateProgram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req createProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid create program request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	confidentiality, err := programModel.ParseConfidentiality(req.Confidentiality)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	program, err := h.programs.CreateProgram(ctx, req.Name, confidentiality)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to create program",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, program)
}

func (h *Handler) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.programs.ListPrograms(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"programs": programs})
}

func (h *Handler) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	programID, err := id.ParseProgramID(chi.URLParam(r, "programID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	program, err := h.programs.GetProgram(r.Context(), programID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, program)
}

func (h *Handler) handleMarkConfidential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	programID, err := id.ParseProgramID(chi.URLParam(r, "programID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	program, err := h.programs.MarkConfidential(ctx, programID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to mark program confidential",
			"request_id", middleware.GetRequestID(ctx),
			"program_id", programID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, program)
}
