package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"caseguard/internal/platform/metrics"
	"caseguard/internal/platform/middleware"
	"caseguard/internal/report/service"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/httputil"
	"caseguard/pkg/requestcontext"
)

type Service interface {
	ProgramCounts(ctx context.Context, userID id.UserID) ([]service.ProgramCount, error)
}

// Handler exposes aggregate reports over HTTP.
type Handler struct {
	logger       *slog.Logger
	reports      Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(reports Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		reports:      reports,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register registers the report routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Get("/program-counts", h.handleProgramCounts)

	r.Mount("/reports", router)
}

type programCountsResponse struct {
	Programs []service.ProgramCount `json:"programs"`
}

func (h *Handler) handleProgramCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rows, err := h.reports.ProgramCounts(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "program counts report failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	if rows == nil {
		rows = []service.ProgramCount{}
	}
	httputil.WriteJSON(w, http.StatusOK, programCountsResponse{Programs: rows})
}
