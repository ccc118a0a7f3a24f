package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"flowcrm/backend/internal/db"
	"flowcrm/backend/internal/notification/domain"
)

const notificationColumns = `id, user_id, org_id, type, title, message, is_read, link, created_at`

type PostgresRepository struct {
	conn db.DBTX
}

func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{conn: conn}
}

func (r *PostgresRepository) CreateBatch(ctx context.Context, ns []*domain.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	const cols = 9
	values := make([]string, 0, len(ns))
	args := make([]any, 0, len(ns)*cols)
	for i, n := range ns {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args, n.ID, n.UserID, n.OrgID, n.Type, n.Title, n.Message, n.IsRead, db.NullString(n.Link), n.CreatedAt)
	}
	q := `INSERT INTO notifications (` + notificationColumns + `) VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (id) DO NOTHING`
	_, err := r.conn.ExecContext(ctx, q, args...)
	return err
}

func (r *PostgresRepository) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.conn.ExecContext(ctx, `UPDATE notifications SET is_read = true WHERE user_id = $1 AND is_read = false`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns the user's notifications, newest first.
func (r *PostgresRepository) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int32) ([]*domain.Notification, error) {
	q := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		q += ` AND is_read = false`
	}
	q += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.conn.QueryContext(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Notification
	for rows.Next() {
		var (
			n    domain.Notification
			link sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.OrgID, &n.Type, &n.Title, &n.Message, &n.IsRead, &link, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Link = link.String
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.conn.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE user_id = $1 AND is_read = false`, userID).Scan(&n)
	return n, err
}
