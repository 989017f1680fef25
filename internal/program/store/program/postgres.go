package program

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"caseguard/internal/program/models"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/sentinel"
)

// PostgresStore persists programs in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed program store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateIfNameAvailable(ctx context.Context, program *models.Program) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO programs (id, name, confidentiality, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(program.ID), program.Name, string(program.Confidentiality),
		program.CreatedAt, program.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create program: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, programID id.ProgramID) (*models.Program, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, confidentiality, created_at, updated_at
		FROM programs WHERE id = $1`,
		uuid.UUID(programID),
	)
	return scanProgram(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Program, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, confidentiality, created_at, updated_at
		FROM programs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	var out []*models.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Execute loads the program under a row lock, runs the callback, and writes
// the mutated classification back in the same transaction.
func (s *PostgresStore) Execute(ctx context.Context, programID id.ProgramID, fn func(*models.Program) error) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin program update: %w", err)
	}
	defer func() { _ = txn.Rollback() }()

	row := txn.QueryRowContext(ctx, `
		SELECT id, name, confidentiality, created_at, updated_at
		FROM programs WHERE id = $1 FOR UPDATE`,
		uuid.UUID(programID),
	)
	p, err := scanProgram(row)
	if err != nil {
		return err
	}

	if err := fn(p); err != nil {
		return err
	}

	_, err = txn.ExecContext(ctx, `
		UPDATE programs SET confidentiality = $2, updated_at = $3 WHERE id = $1`,
		uuid.UUID(p.ID), string(p.Confidentiality), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update program: %w", err)
	}
	return txn.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgram(row rowScanner) (*models.Program, error) {
	var p models.Program
	var programID uuid.UUID
	var confidentiality string
	err := row.Scan(&programID, &p.Name, &confidentiality, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan program: %w", err)
	}
	p.ID = id.ProgramID(programID)
	p.Confidentiality = models.Confidentiality(confidentiality)
	return &p, nil
}
