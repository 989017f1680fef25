package consumer

import (
	"context"
	"log/slog"

	"caseguard/pkg/platform/audit"
)

// Handler processes one decoded audit envelope. Returning an error leaves the
// record uncommitted so the consumer group retries it; handlers that are
// best-effort should log and return nil instead.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

// Router dispatches envelopes to category-specific handlers.
type Router struct {
	handlers map[audit.EventCategory]Handler
	fallback Handler
	logger   *slog.Logger
}

// NewRouter creates a category router with an optional fallback handler.
func NewRouter(logger *slog.Logger, fallback Handler) *Router {
	return &Router{
		handlers: make(map[audit.EventCategory]Handler),
		fallback: fallback,
		logger:   logger,
	}
}

// Register adds a handler for a category.
func (r *Router) Register(category audit.EventCategory, handler Handler) {
	r.handlers[category] = handler
}

// Handle routes the envelope to its category handler.
func (r *Router) Handle(ctx context.Context, env *Envelope) error {
	handler, ok := r.handlers[env.Category]
	if !ok {
		if r.fallback != nil {
			return r.fallback.Handle(ctx, env)
		}
		r.logger.WarnContext(ctx, "no handler for audit category, skipping",
			"category", string(env.Category),
			"event_id", env.EventID,
		)
		// Commit so an unroutable event cannot wedge the partition.
		return nil
	}
	return handler.Handle(ctx, env)
}
