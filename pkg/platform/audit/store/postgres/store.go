package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "caseguard/pkg/domain"
	audit "caseguard/pkg/platform/audit"
	txcontext "caseguard/pkg/platform/tx"
)

// Store implements audit.Store over two tables: audit_events is the durable
// queryable record, and outbox feeds the Kafka relay for downstream fan-out.
// Both rows are written in the caller's transaction when one is present, so
// an erasure execution that commits has committed its audit record with it.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka.
// Field names match audit.Event for deserialization by downstream consumers.
type outboxPayload struct {
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

// Append writes the event durably. When the event carries a dedupe key that
// already exists, nothing is written and nil is returned.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	category := audit.AuditEvent(event.Action).Category()

	var dedupeKey *string
	if event.DedupeKey != "" {
		dedupeKey = &event.DedupeKey
	}

	query := `
		INSERT INTO audit_events (
			id, category, timestamp, actor_id, action,
			client_id, program_id, erasure_request_id,
			decision, reason, request_id, counts, dedupe_key
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (dedupe_key) DO NOTHING
	`

	countsJSON, err := json.Marshal(event.Counts)
	if err != nil {
		return fmt.Errorf("marshal audit counts: %w", err)
	}

	res, err := s.execer(ctx).ExecContext(ctx, query,
		eventID,
		string(category),
		event.Timestamp,
		nullableUUID(uuid.UUID(event.ActorID)),
		event.Action,
		nullableUUID(uuid.UUID(event.ClientID)),
		nullableUUID(uuid.UUID(event.ProgramID)),
		nullableUUID(uuid.UUID(event.ErasureRequestID)),
		event.Decision,
		event.Reason,
		event.RequestID,
		countsJSON,
		dedupeKey,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Dedupe hit: the record is already durable, skip the outbox too.
		return nil
	}

	payload := outboxPayload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Action:    event.Action,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		Counts:    event.Counts,
	}
	if !event.ActorID.IsNil() {
		payload.ActorID = event.ActorID.String()
	}
	if !event.ClientID.IsNil() {
		payload.ClientID = event.ClientID.String()
	}
	if !event.ProgramID.IsNil() {
		payload.ProgramID = event.ProgramID.String()
	}
	if !event.ErasureRequestID.IsNil() {
		payload.ErasureRequestID = event.ErasureRequestID.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	outboxQuery := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	aggregateType := "audit"
	aggregateID := eventID.String()
	if !event.ClientID.IsNil() {
		aggregateType = "client"
		aggregateID = event.ClientID.String()
	}

	_, err = s.execer(ctx).ExecContext(ctx, outboxQuery,
		uuid.New(),
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// HasKey reports whether an event with the dedupe key is already durable.
func (s *Store) HasKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM audit_events WHERE dedupe_key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query audit dedupe key: %w", err)
	}
	return exists, nil
}

// ListByClient returns events referencing a client, oldest first.
func (s *Store) ListByClient(ctx context.Context, clientID id.ClientID) ([]audit.Event, error) {
	query := `
		SELECT category, timestamp, actor_id, action,
			   client_id, program_id, erasure_request_id,
			   decision, reason, request_id, counts
		FROM audit_events
		WHERE client_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(clientID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			category   string
			event      audit.Event
			actorID    *uuid.UUID
			clientID   *uuid.UUID
			programID  *uuid.UUID
			requestID  *uuid.UUID
			countsJSON []byte
		)

		err := rows.Scan(
			&category,
			&event.Timestamp,
			&actorID,
			&event.Action,
			&clientID,
			&programID,
			&requestID,
			&event.Decision,
			&event.Reason,
			&event.RequestID,
			&countsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Category = audit.EventCategory(category)
		if actorID != nil {
			event.ActorID = id.UserID(*actorID)
		}
		if clientID != nil {
			event.ClientID = id.ClientID(*clientID)
		}
		if programID != nil {
			event.ProgramID = id.ProgramID(*programID)
		}
		if requestID != nil {
			event.ErasureRequestID = id.ErasureRequestID(*requestID)
		}
		if len(countsJSON) > 0 {
			if err := json.Unmarshal(countsJSON, &event.Counts); err != nil {
				return nil, fmt.Errorf("unmarshal audit counts: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

func nullableUUID(u uuid.UUID) *uuid.UUID {
	if u == uuid.Nil {
		return nil
	}
	return &u
}
