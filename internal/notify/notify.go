// Package notify is the best-effort notification path. Governance flows
// enqueue messages for program managers; delivery is asynchronous and a
// delivery failure never blocks or rolls back a governance transition.
package notify

import (
	"context"
	"time"

	id "caseguard/pkg/domain"
)

// MessageType names the governance event a notification describes.
type MessageType string

const (
	// TypeApprovalRequested asks a program manager to review an erasure request.
	TypeApprovalRequested MessageType = "erasure_approval_requested"
	// TypeRequestDeadlocked tells administrators a request has no eligible approver.
	TypeRequestDeadlocked MessageType = "erasure_request_deadlocked"
	// TypeRequestResolved tells the requester the request reached a terminal outcome.
	TypeRequestResolved MessageType = "erasure_request_resolved"
)

// Message is a queued notification. It carries identifiers only; the
// rendering step resolves display text, and no identity fields ever enter
// the queue.
type Message struct {
	Type             MessageType         `json:"type"`
	RecipientID      id.UserID           `json:"recipient_id"`
	ErasureRequestID id.ErasureRequestID `json:"erasure_request_id"`
	ClientID         id.ClientID         `json:"client_id,omitempty"`
	Outcome          string              `json:"outcome,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Queue transports messages to the delivery worker.
type Queue interface {
	// Enqueue adds a message. Implementations may drop on overflow; callers
	// must treat enqueue as fire-and-forget.
	Enqueue(ctx context.Context, msg Message) error
	// Dequeue returns the next message, or nil when none arrived within the
	// implementation's wait window.
	Dequeue(ctx context.Context) (*Message, error)
}
