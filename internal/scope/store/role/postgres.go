package role

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseguard/internal/scope/models"
	id "caseguard/pkg/domain"
	"caseguard/pkg/platform/sentinel"
)

// PostgresStore persists role assignments in PostgreSQL. A partial unique
// index on (user_id, program_id) WHERE revoked_at IS NULL keeps at most one
// active assignment per pair while retaining revoked rows for audit.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed role store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Assign(ctx context.Context, assignment *models.UserProgramRole) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_program_roles (user_id, program_id, role, assigned_at, assigned_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, program_id) WHERE revoked_at IS NULL
		DO UPDATE SET role = EXCLUDED.role, assigned_at = EXCLUDED.assigned_at, assigned_by = EXCLUDED.assigned_by`,
		uuid.UUID(assignment.UserID), uuid.UUID(assignment.ProgramID),
		string(assignment.Role), assignment.AssignedAt, uuid.UUID(assignment.AssignedBy),
	)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func (s *PostgresStore) Revoke(ctx context.Context, userID id.UserID, programID id.ProgramID, revokedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_program_roles SET revoked_at = $3
		WHERE user_id = $1 AND program_id = $2 AND revoked_at IS NULL`,
		uuid.UUID(userID), uuid.UUID(programID), revokedAt,
	)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke role rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActiveByUser(ctx context.Context, userID id.UserID) ([]*models.UserProgramRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, program_id, role, assigned_at, assigned_by
		FROM user_program_roles
		WHERE user_id = $1 AND revoked_at IS NULL`,
		uuid.UUID(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("list active roles: %w", err)
	}
	defer rows.Close()

	var out []*models.UserProgramRole
	for rows.Next() {
		var a models.UserProgramRole
		var userUUID, programUUID, assignedByUUID uuid.UUID
		var role string
		if err := rows.Scan(&userUUID, &programUUID, &role, &a.AssignedAt, &assignedByUUID); err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		a.UserID = id.UserID(userUUID)
		a.ProgramID = id.ProgramID(programUUID)
		a.Role = models.Role(role)
		a.AssignedBy = id.UserID(assignedByUUID)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListManagersByProgram(ctx context.Context, programID id.ProgramID) ([]id.UserID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM user_program_roles
		WHERE program_id = $1 AND role = $2 AND revoked_at IS NULL`,
		uuid.UUID(programID), string(models.RoleProgramManager),
	)
	if err != nil {
		return nil, fmt.Errorf("list program managers: %w", err)
	}
	defer rows.Close()

	var out []id.UserID
	for rows.Next() {
		var userUUID uuid.UUID
		if err := rows.Scan(&userUUID); err != nil {
			return nil, fmt.Errorf("scan program manager: %w", err)
		}
		out = append(out, id.UserID(userUUID))
	}
	return out, rows.Err()
}
