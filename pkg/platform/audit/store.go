package audit

import (
	"context"

	id "caseguard/pkg/domain"
)

// Store persists audit events. Implementations must make Append durable
// before returning: governance execution treats a returned nil as a written
// record and proceeds to destructive work on that basis.
type Store interface {
	// Append writes one event. When the event carries a DedupeKey that was
	// already appended, the call is a no-op and returns nil.
	Append(ctx context.Context, event Event) error

	// HasKey reports whether an event with the given dedupe key was already
	// durably written. Used by idempotent retry paths.
	HasKey(ctx context.Context, key string) (bool, error)

	// ListByClient returns events referencing the client, oldest first.
	ListByClient(ctx context.Context, clientID id.ClientID) ([]Event, error)
}
