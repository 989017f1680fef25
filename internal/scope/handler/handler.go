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
	"caseguard/internal/scope/models"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
	"caseguard/pkg/platform/httputil"
	"caseguard/pkg/requestcontext"
)

// Service defines the interface for scope resolution and administration.
type Service interface {
	Resolve(ctx context.Context, userID id.UserID) (*models.ScopeSet, error)
	AssignRole(ctx context.Context, userID id.UserID, programID id.ProgramID, role models.Role) (*models.UserProgramRole, error)
	RevokeRole(ctx context.Context, userID id.UserID, programID id.ProgramID) error
	SetBlock(ctx context.Context, userID id.UserID, clientID id.ClientID, reason string) error
	LiftBlock(ctx context.Context, userID id.UserID, clientID id.ClientID) error
}

// Handler exposes scope endpoints: a read surface for the authenticated
// user's own scope and admin-token surfaces for role and block management.
type Handler struct {
	logger       *slog.Logger
	scope        Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
	adminToken   string
}

// New creates a new scope Handler.
func New(scope Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator, adminToken string) *Handler {
	return &Handler{
		logger:       logger,
		scope:        scope,
		metrics:      m,
		jwtValidator: jwtValidator,
		adminToken:   adminToken,
	}
}

// Register registers the scope routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	scopeRouter := chi.NewRouter()
	scopeRouter.Use(middleware.Recovery(h.logger))
	scopeRouter.Use(middleware.RequestID)
	scopeRouter.Use(middleware.Logger(h.logger))
	scopeRouter.Use(middleware.Timeout(30 * time.Second))
	scopeRouter.Use(middleware.ContentTypeJSON)
	scopeRouter.Use(middleware.LatencyMiddleware(h.metrics))
	scopeRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	scopeRouter.Get("/", h.handleGetScope)

	rolesRouter := h.adminRouter()
	rolesRouter.Post("/", h.handleAssignRole)
	rolesRouter.Post("/revoke", h.handleRevokeRole)

	blocksRouter := h.adminRouter()
	blocksRouter.Post("/", h.handleSetBlock)
	blocksRouter.Post("/lift", h.handleLiftBlock)

	r.Mount("/scope", scopeRouter)
	r.Mount("/admin/roles", rolesRouter)
	r.Mount("/admin/blocks", blocksRouter)
}

func (h *Handler) adminRouter() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
	return router
}

type programRoleResponse struct {
	ProgramID string `json:"program_id"`
	Role      string `json:"role"`
}

func (h *Handler) handleGetScope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	scope, err := h.scope.Resolve(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	roles := make([]programRoleResponse, 0)
	for programID, role := range scope.ProgramRoles() {
		roles = append(roles, programRoleResponse{ProgramID: programID.String(), Role: string(role)})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":       userID.String(),
		"program_roles": roles,
		"admin":         requestcontext.IsAdmin(ctx),
	})
}

type roleRequest struct {
	UserID    string `json:"user_id"`
	ProgramID string `json:"program_id"`
	Role      string `json:"role"`
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	programID, err := id.ParseProgramID(req.ProgramID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	assignment, err := h.scope.AssignRole(ctx, userID, programID, role)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to assign role",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, assignment)
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	programID, err := id.ParseProgramID(req.ProgramID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.scope.RevokeRole(ctx, userID, programID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type blockRequest struct {
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleSetBlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	clientID, err := id.ParseClientID(req.ClientID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.scope.SetBlock(ctx, userID, clientID, req.Reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLiftBlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	clientID, err := id.ParseClientID(req.ClientID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.scope.LiftBlock(ctx, userID, clientID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
