package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"caseguard/internal/boundary"
	"caseguard/internal/client/models"
	"caseguard/internal/match"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/sentinel"
	"caseguard/pkg/platform/tx"
)

// PostgresStore persists client files in PostgreSQL. Visibility constraints
// are applied inside the SQL itself: program membership and block
// subtraction happen at query construction, not after materialization.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed client store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) runner(ctx context.Context) execer {
	if txn, ok := tx.From(ctx); ok {
		return txn
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, c *models.ClientFile) error {
	run := s.runner(ctx)
	_, err := run.ExecContext(ctx, `
		INSERT INTO clients (id, sealed, phone_key, name_dob_key, status, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.UUID(c.ID), c.Sealed, c.PhoneKey, c.NameDOBKey, string(c.Status),
		c.CreatedAt, c.UpdatedAt, uuid.UUID(c.CreatedBy),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create client: %w", err)
	}
	for _, programID := range c.Enrolments {
		if _, err := run.ExecContext(ctx, `
			INSERT INTO client_enrolments (client_id, program_id, enrolled_at)
			VALUES ($1, $2, $3)`,
			uuid.UUID(c.ID), uuid.UUID(programID), c.CreatedAt,
		); err != nil {
			return fmt.Errorf("create enrolment: %w", err)
		}
	}
	return nil
}

const clientColumns = `
	c.id, c.sealed, c.phone_key, c.name_dob_key, c.status, c.created_at, c.updated_at, c.created_by,
	COALESCE((
		SELECT array_agg(e.program_id::text ORDER BY e.enrolled_at)
		FROM client_enrolments e WHERE e.client_id = c.id
	), '{}')`

func (s *PostgresStore) FindVisible(ctx context.Context, vis boundary.Visibility, clientID id.ClientID) (*models.ClientFile, error) {
	if vis.IsEmpty() || vis.Blocks(clientID) {
		return nil, sentinel.ErrNotFound
	}
	row := s.runner(ctx).QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients c
		WHERE c.id = $1
		  AND EXISTS (
			SELECT 1 FROM client_enrolments e
			WHERE e.client_id = c.id AND e.program_id = ANY($2::uuid[])
		  )`,
		uuid.UUID(clientID), idArray(vis.ProgramIDs()),
	)
	return scanClient(row)
}

func (s *PostgresStore) ListVisible(ctx context.Context, vis boundary.Visibility, limit, offset int) ([]*models.ClientFile, error) {
	if vis.IsEmpty() {
		return nil, nil
	}
	rows, err := s.runner(ctx).QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients c
		WHERE EXISTS (
			SELECT 1 FROM client_enrolments e
			WHERE e.client_id = c.id AND e.program_id = ANY($1::uuid[])
		  )
		  AND NOT (c.id = ANY($2::uuid[]))
		ORDER BY c.created_at
		LIMIT $3 OFFSET $4`,
		idArray(vis.ProgramIDs()), clientArray(vis.BlockedIDs()), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []*models.ClientFile
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindByID(ctx context.Context, clientID id.ClientID) (*models.ClientFile, error) {
	row := s.runner(ctx).QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients c WHERE c.id = $1`,
		uuid.UUID(clientID),
	)
	return scanClient(row)
}

// Execute loads the client under a row lock, runs the callback, and writes
// back status and enrolments in the same transaction.
func (s *PostgresStore) Execute(ctx context.Context, clientID id.ClientID, fn func(*models.ClientFile) error) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin client update: %w", err)
	}
	defer func() { _ = txn.Rollback() }()

	row := txn.QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients c WHERE c.id = $1 FOR UPDATE OF c`,
		uuid.UUID(clientID),
	)
	c, err := scanClient(row)
	if err != nil {
		return err
	}

	if err := fn(c); err != nil {
		return err
	}

	if _, err := txn.ExecContext(ctx, `
		UPDATE clients SET status = $2, updated_at = $3 WHERE id = $1`,
		uuid.UUID(c.ID), string(c.Status), c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	if _, err := txn.ExecContext(ctx, `
		DELETE FROM client_enrolments WHERE client_id = $1`,
		uuid.UUID(c.ID),
	); err != nil {
		return fmt.Errorf("reset enrolments: %w", err)
	}
	for _, programID := range c.Enrolments {
		if _, err := txn.ExecContext(ctx, `
			INSERT INTO client_enrolments (client_id, program_id, enrolled_at)
			VALUES ($1, $2, $3)`,
			uuid.UUID(c.ID), uuid.UUID(programID), c.UpdatedAt,
		); err != nil {
			return fmt.Errorf("write enrolment: %w", err)
		}
	}
	return txn.Commit()
}

func (s *PostgresStore) FindByMatchKey(ctx context.Context, vis boundary.Visibility, field match.Field, key string) ([]id.ClientID, error) {
	if vis.IsEmpty() || key == "" {
		return nil, nil
	}
	var column string
	switch field {
	case match.FieldPhone:
		column = "phone_key"
	case match.FieldFirstNameDOB:
		column = "name_dob_key"
	default:
		return nil, fmt.Errorf("unknown match field %q", field)
	}

	rows, err := s.runner(ctx).QueryContext(ctx, `
		SELECT c.id FROM clients c
		WHERE c.`+column+` = $1
		  AND EXISTS (
			SELECT 1 FROM client_enrolments e
			WHERE e.client_id = c.id AND e.program_id = ANY($2::uuid[])
		  )
		  AND NOT (c.id = ANY($3::uuid[]))
		ORDER BY c.id`,
		key, idArray(vis.ProgramIDs()), clientArray(vis.BlockedIDs()),
	)
	if err != nil {
		return nil, fmt.Errorf("match key lookup: %w", err)
	}
	defer rows.Close()

	var out []id.ClientID
	for rows.Next() {
		var clientUUID uuid.UUID
		if err := rows.Scan(&clientUUID); err != nil {
			return nil, fmt.Errorf("scan match candidate: %w", err)
		}
		out = append(out, id.ClientID(clientUUID))
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByProgram(ctx context.Context, programID id.ProgramID) (int, error) {
	var count int
	err := s.runner(ctx).QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT client_id) FROM client_enrolments WHERE program_id = $1`,
		uuid.UUID(programID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count enrolments: %w", err)
	}
	return count, nil
}

// CascadeErase hard-deletes the client row and its enrolments, returning
// per-type counts. Runs inside the caller's transaction when one is in the
// context, which erasure execution relies on.
func (s *PostgresStore) CascadeErase(ctx context.Context, clientID id.ClientID) (map[string]int, error) {
	run := s.runner(ctx)

	var phoneKey, nameDOBKey string
	err := run.QueryRowContext(ctx, `
		SELECT phone_key, name_dob_key FROM clients WHERE id = $1`,
		uuid.UUID(clientID),
	).Scan(&phoneKey, &nameDOBKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load client for erase: %w", err)
	}

	res, err := run.ExecContext(ctx, `DELETE FROM client_enrolments WHERE client_id = $1`, uuid.UUID(clientID))
	if err != nil {
		return nil, fmt.Errorf("erase enrolments: %w", err)
	}
	enrolments, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("erase enrolments count: %w", err)
	}

	if _, err := run.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, uuid.UUID(clientID)); err != nil {
		return nil, fmt.Errorf("erase client: %w", err)
	}

	matchKeys := 0
	if phoneKey != "" {
		matchKeys++
	}
	if nameDOBKey != "" {
		matchKeys++
	}
	return map[string]int{
		"client_files": 1,
		"enrolments":   int(enrolments),
		"match_keys":   matchKeys,
	}, nil
}

func idArray(ids []id.ProgramID) any {
	out := make([]string, 0, len(ids))
	for _, p := range ids {
		out = append(out, p.String())
	}
	return pq.Array(out)
}

func clientArray(ids []id.ClientID) any {
	out := make([]string, 0, len(ids))
	for _, c := range ids {
		out = append(out, c.String())
	}
	return pq.Array(out)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*models.ClientFile, error) {
	var c models.ClientFile
	var clientUUID, createdBy uuid.UUID
	var status string
	var enrolments pq.StringArray
	err := row.Scan(&clientUUID, &c.Sealed, &c.PhoneKey, &c.NameDOBKey, &status,
		&c.CreatedAt, &c.UpdatedAt, &createdBy, &enrolments)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}
	c.ID = id.ClientID(clientUUID)
	c.CreatedBy = id.UserID(createdBy)
	c.Status = models.ClientStatus(status)
	for _, raw := range enrolments {
		programID, err := id.ParseProgramID(raw)
		if err != nil {
			return nil, fmt.Errorf("parse enrolment program id: %w", err)
		}
		c.Enrolments = append(c.Enrolments, programID)
	}
	return &c, nil
}
