// Package consumer reads relayed audit events off Kafka and fans them out to
// category pipelines: compliance events go to long-retention archival,
// security events to SIEM forwarding, operations events to sampled metrics.
//
// The durable record already lives in audit_events by the time anything
// reaches this package, so every pipeline here is allowed to lag, sample or
// drop without weakening governance guarantees.
package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseguard/pkg/platform/audit"
)

// Envelope is one relayed audit event, decoded from the outbox payload.
// Identity references stay as opaque ID strings; this side of the pipeline
// never resolves them back to records.
type Envelope struct {
	EventID          uuid.UUID
	Category         audit.EventCategory
	Timestamp        time.Time
	ActorID          string
	Action           string
	ClientID         string
	ProgramID        string
	ErasureRequestID string
	Decision         string
	Reason           string
	RequestID        string
	Counts           map[string]int
}

// wireEnvelope mirrors the outbox payload written by the audit store.
type wireEnvelope struct {
	ID               string         `json:"ID"`
	Category         string         `json:"Category"`
	Timestamp        string         `json:"Timestamp"`
	ActorID          string         `json:"ActorID,omitempty"`
	Action           string         `json:"Action"`
	ClientID         string         `json:"ClientID,omitempty"`
	ProgramID        string         `json:"ProgramID,omitempty"`
	ErasureRequestID string         `json:"ErasureRequestID,omitempty"`
	Decision         string         `json:"Decision,omitempty"`
	Reason           string         `json:"Reason,omitempty"`
	RequestID        string         `json:"RequestID,omitempty"`
	Counts           map[string]int `json:"Counts,omitempty"`
}

// Decode parses a relayed payload into an Envelope.
func Decode(payload []byte) (*Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal audit payload: %w", err)
	}

	eventID, err := uuid.Parse(wire.ID)
	if err != nil {
		return nil, fmt.Errorf("parse audit event id %q: %w", wire.ID, err)
	}
	if wire.Action == "" {
		return nil, fmt.Errorf("audit event %s has no action", eventID)
	}

	env := &Envelope{
		EventID:          eventID,
		Category:         audit.EventCategory(wire.Category),
		ActorID:          wire.ActorID,
		Action:           wire.Action,
		ClientID:         wire.ClientID,
		ProgramID:        wire.ProgramID,
		ErasureRequestID: wire.ErasureRequestID,
		Decision:         wire.Decision,
		Reason:           wire.Reason,
		RequestID:        wire.RequestID,
		Counts:           wire.Counts,
	}
	if env.Category == "" {
		// Payloads from before categories were introduced derive one from
		// the action.
		env.Category = audit.AuditEvent(wire.Action).Category()
	}
	if ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp); err == nil {
		env.Timestamp = ts
	} else {
		env.Timestamp = time.Now()
	}
	return env, nil
}
