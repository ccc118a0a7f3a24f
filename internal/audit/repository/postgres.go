package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"flowcrm/backend/internal/audit/domain"
	"flowcrm/backend/internal/db"
)

const auditColumns = `id, org_id, user_id, action, entity_type, entity_id, changes, created_at`

type PostgresRepository struct {
	conn db.DBTX
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{conn: conn}
}

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id)
	a, err := scanAuditLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// ListByOrg returns audit logs for the given org, newest first, paginated by limit and offset.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.AuditLog, error) {
	return r.ListByOrgFiltered(ctx, orgID, Filter{}, limit, offset)
}

// ListByOrgFiltered is ListByOrg restricted by the non-empty fields of f.
func (r *PostgresRepository) ListByOrgFiltered(ctx context.Context, orgID string, f Filter, limit, offset int32) ([]*domain.AuditLog, error) {
	where := []string{"org_id = $1"}
	args := []any{orgID}
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("user_id", f.UserID)
	add("action", f.Action)
	add("entity_type", f.EntityType)
	add("entity_id", f.EntityID)
	args = append(args, limit, offset)
	q := fmt.Sprintf(`SELECT %s FROM audit_logs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		auditColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	var changes any
	if len(a.Changes) > 0 {
		changes = []byte(a.Changes)
	}
	_, err := r.conn.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
		a.ID, a.OrgID, db.NullString(a.UserID), a.Action, a.EntityType, a.EntityID, changes, a.CreatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditLog(s rowScanner) (*domain.AuditLog, error) {
	var (
		a       domain.AuditLog
		userID  sql.NullString
		changes []byte
	)
	if err := s.Scan(&a.ID, &a.OrgID, &userID, &a.Action, &a.EntityType, &a.EntityID, &changes, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.UserID = userID.String
	if len(changes) > 0 {
		a.Changes = changes
	}
	return &a, nil
}
