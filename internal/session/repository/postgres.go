package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flowcrm/backend/internal/db"
	"flowcrm/backend/internal/session/domain"
)

type PostgresRepository struct {
	conn db.DBTX
}

// NewPostgresRepository returns a session repository backed by conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{conn: conn}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	var hash sql.NullString
	var revokedAt sql.NullTime
	err := r.conn.QueryRowContext(ctx,
		`SELECT id, user_id, org_id, refresh_token_hash, expires_at, revoked_at, created_at
		 FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.UserID, &s.OrgID, &hash, &s.ExpiresAt, &revokedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.RefreshTokenHash = hash.String
	s.RevokedAt = db.TimePtr(revokedAt)
	return &s, nil
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, org_id, refresh_token_hash, expires_at, revoked_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.OrgID, db.NullString(s.RefreshTokenHash), s.ExpiresAt, db.NullTime(s.RevokedAt), s.CreatedAt)
	return err
}

// DeleteExpired deletes sessions whose expiry or revocation is older than before.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)`,
		before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
