package block

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

// PostgresStore persists access blocks in PostgreSQL. Lifted blocks are kept
// for audit; a partial unique index on (user_id, client_id) WHERE lifted_at
// IS NULL allows one active block per pair.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed block store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Set(ctx context.Context, b *models.ClientAccessBlock) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_access_blocks (user_id, client_id, reason, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, client_id) WHERE lifted_at IS NULL
		DO UPDATE SET reason = EXCLUDED.reason`,
		uuid.UUID(b.UserID), uuid.UUID(b.ClientID), b.Reason, b.CreatedAt, uuid.UUID(b.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("set access block: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lift(ctx context.Context, userID id.UserID, clientID id.ClientID, liftedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE client_access_blocks SET lifted_at = $3
		WHERE user_id = $1 AND client_id = $2 AND lifted_at IS NULL`,
		uuid.UUID(userID), uuid.UUID(clientID), liftedAt,
	)
	if err != nil {
		return fmt.Errorf("lift access block: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lift access block rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IsBlocked(ctx context.Context, userID id.UserID, clientID id.ClientID) (bool, error) {
	var blocked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM client_access_blocks
			WHERE user_id = $1 AND client_id = $2 AND lifted_at IS NULL
		)`,
		uuid.UUID(userID), uuid.UUID(clientID),
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("check access block: %w", err)
	}
	return blocked, nil
}

func (s *PostgresStore) ListBlockedClients(ctx context.Context, userID id.UserID) ([]id.ClientID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id FROM client_access_blocks
		WHERE user_id = $1 AND lifted_at IS NULL`,
		uuid.UUID(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("list blocked clients: %w", err)
	}
	defer rows.Close()

	var out []id.ClientID
	for rows.Next() {
		var clientUUID uuid.UUID
		if err := rows.Scan(&clientUUID); err != nil {
			return nil, fmt.Errorf("scan blocked client: %w", err)
		}
		out = append(out, id.ClientID(clientUUID))
	}
	return out, rows.Err()
}
