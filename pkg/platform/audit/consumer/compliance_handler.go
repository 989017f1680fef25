package consumer

import (
	"context"
	"fmt"
	"log/slog"
)

// Archive is the long-retention sink for compliance events.
type Archive interface {
	Archive(ctx context.Context, env *Envelope) error
}

// ComplianceHandler writes compliance-category events to a retention archive.
// Archive failures propagate so the record is redelivered; the durable copy
// in audit_events means redelivery is safe.
type ComplianceHandler struct {
	archive Archive
	logger  *slog.Logger
}

// NewComplianceHandler creates a compliance event handler.
func NewComplianceHandler(archive Archive, logger *slog.Logger) *ComplianceHandler {
	return &ComplianceHandler{archive: archive, logger: logger}
}

// Handle archives one compliance event.
func (h *ComplianceHandler) Handle(ctx context.Context, env *Envelope) error {
	// Compliance events always name who acted. A payload without an actor is
	// malformed at the source and retrying cannot fix it.
	if env.ActorID == "" {
		h.logger.ErrorContext(ctx, "compliance event missing actor, skipping",
			"event_id", env.EventID,
			"action", env.Action,
		)
		return nil
	}

	if err := h.archive.Archive(ctx, env); err != nil {
		h.logger.ErrorContext(ctx, "failed to archive compliance event",
			"event_id", env.EventID,
			"action", env.Action,
			"error", err.Error(),
		)
		return fmt.Errorf("archive compliance event %s: %w", env.EventID, err)
	}

	h.logger.DebugContext(ctx, "archived compliance event",
		"event_id", env.EventID,
		"action", env.Action,
	)
	return nil
}
