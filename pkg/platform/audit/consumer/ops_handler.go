package consumer

import (
	"context"
	"log/slog"
)

// OpsHandler surfaces operations-category events as sampled debug logs and
// counters. Everything here is best-effort; it never blocks the partition.
type OpsHandler struct {
	sampler *Sampler
	metrics *Metrics
	logger  *slog.Logger
}

// NewOpsHandler creates an ops event handler.
func NewOpsHandler(sampler *Sampler, metrics *Metrics, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{sampler: sampler, metrics: metrics, logger: logger}
}

// Handle processes one operational event.
func (h *OpsHandler) Handle(ctx context.Context, env *Envelope) error {
	if !h.sampler.Keep(env.Action) {
		h.metrics.IncSampled()
		return nil
	}
	h.metrics.IncTracked()
	h.logger.DebugContext(ctx, "ops audit event",
		"event_id", env.EventID,
		"action", env.Action,
		"request_id", env.RequestID,
	)
	return nil
}
