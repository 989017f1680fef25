package erasure

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"caseguard/internal/erasure/models"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/sentinel"
	"caseguard/pkg/platform/tx"
)

// PostgresStore persists erasure requests. The frozen approver snapshot and
// the frozen data summary live as JSONB on the request row; individual
// decisions live in erasure_approvals.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) runner(ctx context.Context) dbExecutor {
	if txn, ok := tx.From(ctx); ok {
		return txn
	}
	return s.db
}

// Create inserts the request row. It joins the caller's transaction when one
// is in the context, so the insert can commit atomically with the creation
// audit events.
func (s *PostgresStore) Create(ctx context.Context, req *models.ErasureRequest) error {
	required, err := encodeRequired(req.ProgramsRequired)
	if err != nil {
		return err
	}
	_, err = s.runner(ctx).ExecContext(ctx, `
		INSERT INTO erasure_requests (
			id, client_id, requested_by, reason, status,
			programs_required, data_summary, created_at, updated_at, executed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8, NULL)`,
		uuid.UUID(req.ID), uuid.UUID(req.ClientID), uuid.UUID(req.RequestedBy),
		req.Reason, string(req.Status), required, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create erasure request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.ErasureRequestID) (*models.ErasureRequest, error) {
	req, err := s.loadRequest(ctx, s.db, requestID, false)
	if err != nil {
		return nil, err
	}
	return req, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Execute loads the request under FOR UPDATE, runs the callback with a
// transaction-carrying context, and writes the request state back before
// committing. Concurrent final approvals serialize on the row lock, so
// exactly one caller observes the pending-to-approved transition.
func (s *PostgresStore) Execute(ctx context.Context, requestID id.ErasureRequestID, fn func(txCtx context.Context, req *models.ErasureRequest) error) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin erasure update: %w", err)
	}
	defer func() { _ = txn.Rollback() }()

	req, err := s.loadRequest(ctx, txn, requestID, true)
	if err != nil {
		return err
	}

	if err := fn(tx.WithTx(ctx, txn), req); err != nil {
		return err
	}

	required, err := encodeRequired(req.ProgramsRequired)
	if err != nil {
		return err
	}
	var summary []byte
	if req.DataSummary != nil {
		if summary, err = json.Marshal(req.DataSummary); err != nil {
			return fmt.Errorf("encode data summary: %w", err)
		}
	}
	if _, err := txn.ExecContext(ctx, `
		UPDATE erasure_requests
		SET client_id = $2, status = $3, programs_required = $4,
		    data_summary = $5, updated_at = $6, executed_at = $7
		WHERE id = $1`,
		uuid.UUID(req.ID), nullableClient(req.ClientID), string(req.Status),
		required, summary, req.UpdatedAt, req.ExecutedAt,
	); err != nil {
		return fmt.Errorf("update erasure request: %w", err)
	}

	if _, err := txn.ExecContext(ctx,
		`DELETE FROM erasure_approvals WHERE request_id = $1`, uuid.UUID(req.ID),
	); err != nil {
		return fmt.Errorf("reset approvals: %w", err)
	}
	for _, a := range req.Approvals {
		if _, err := txn.ExecContext(ctx, `
			INSERT INTO erasure_approvals (request_id, program_id, approver_id, decision, note, fallback, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.UUID(req.ID), nullableProgram(a.ProgramID), uuid.UUID(a.ApproverID),
			string(a.Decision), a.Note, a.Fallback, a.DecidedAt,
		); err != nil {
			return fmt.Errorf("write approval: %w", err)
		}
	}

	return txn.Commit()
}

func (s *PostgresStore) loadRequest(ctx context.Context, q queryer, requestID id.ErasureRequestID, forUpdate bool) (*models.ErasureRequest, error) {
	query := `
		SELECT id, client_id, requested_by, reason, status,
		       programs_required, data_summary, created_at, updated_at, executed_at
		FROM erasure_requests WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		req         models.ErasureRequest
		reqUUID     uuid.UUID
		clientID    *uuid.UUID
		requestedBy uuid.UUID
		status      string
		required    []byte
		summary     []byte
		executedAt  *time.Time
	)
	err := q.QueryRowContext(ctx, query, uuid.UUID(requestID)).Scan(
		&reqUUID, &clientID, &requestedBy, &req.Reason, &status,
		&required, &summary, &req.CreatedAt, &req.UpdatedAt, &executedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load erasure request: %w", err)
	}
	req.ID = id.ErasureRequestID(reqUUID)
	if clientID != nil {
		req.ClientID = id.ClientID(*clientID)
	}
	req.RequestedBy = id.UserID(requestedBy)
	req.Status = models.Status(status)
	req.ExecutedAt = executedAt
	if req.ProgramsRequired, err = decodeRequired(required); err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &req.DataSummary); err != nil {
			return nil, fmt.Errorf("decode data summary: %w", err)
		}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT program_id, approver_id, decision, note, fallback, decided_at
		FROM erasure_approvals WHERE request_id = $1
		ORDER BY decided_at`,
		uuid.UUID(requestID),
	)
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a          models.Approval
			programID  *uuid.UUID
			approverID uuid.UUID
			decision   string
		)
		if err := rows.Scan(&programID, &approverID, &decision, &a.Note, &a.Fallback, &a.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		if programID != nil {
			a.ProgramID = id.ProgramID(*programID)
		}
		a.ApproverID = id.UserID(approverID)
		a.Decision = models.Decision(decision)
		req.Approvals = append(req.Approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return &req, nil
}

func encodeRequired(required map[id.ProgramID][]id.UserID) ([]byte, error) {
	out := make(map[string][]string, len(required))
	for p, users := range required {
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.String())
		}
		out[p.String()] = ids
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode approver snapshot: %w", err)
	}
	return encoded, nil
}

func decodeRequired(raw []byte) (map[id.ProgramID][]id.UserID, error) {
	var decoded map[string][]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode approver snapshot: %w", err)
	}
	out := make(map[id.ProgramID][]id.UserID, len(decoded))
	for p, users := range decoded {
		programID, err := id.ParseProgramID(p)
		if err != nil {
			return nil, fmt.Errorf("decode approver snapshot program: %w", err)
		}
		ids := make([]id.UserID, 0, len(users))
		for _, u := range users {
			userID, err := id.ParseUserID(u)
			if err != nil {
				return nil, fmt.Errorf("decode approver snapshot user: %w", err)
			}
			ids = append(ids, userID)
		}
		out[programID] = ids
	}
	return out, nil
}

func nullableClient(clientID id.ClientID) *uuid.UUID {
	if clientID.IsNil() {
		return nil
	}
	u := uuid.UUID(clientID)
	return &u
}

func nullableProgram(programID id.ProgramID) *uuid.UUID {
	if programID.IsNil() {
		return nil
	}
	u := uuid.UUID(programID)
	return &u
}
