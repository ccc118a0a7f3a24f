package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"flowcrm/backend/internal/db"
	"flowcrm/backend/internal/webhook/domain"
)

type PostgresRepository struct {
	conn db.DBTX
}

func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{conn: conn}
}

const configColumns = `org_id, url, secret, events, created_at, updated_at`

func scanConfig(row *sql.Row) (*domain.Config, error) {
	var (
		c      domain.Config
		secret sql.NullString
		events pq.StringArray
	)
	if err := row.Scan(&c.OrgID, &c.URL, &secret, &events, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Secret = secret.String
	c.Events = []string(events)
	return &c, nil
}

func (r *PostgresRepository) GetConfig(ctx context.Context, orgID string) (*domain.Config, error) {
	return scanConfig(r.conn.QueryRowContext(ctx, `SELECT `+configColumns+` FROM webhook_configs WHERE org_id = $1`, orgID))
}

func (r *PostgresRepository) UpsertConfig(ctx context.Context, c *domain.Config) (*domain.Config, error) {
	return scanConfig(r.conn.QueryRowContext(ctx, `
INSERT INTO webhook_configs (org_id, url, secret, events, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (org_id) DO UPDATE SET url = EXCLUDED.url, events = EXCLUDED.events, updated_at = EXCLUDED.updated_at
RETURNING `+configColumns,
		c.OrgID, c.URL, db.NullString(c.Secret), pq.Array(c.Events), c.UpdatedAt,
	))
}

func (r *PostgresRepository) UpdateSecret(ctx context.Context, orgID, secret string) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `UPDATE webhook_configs SET secret = $2, updated_at = now() WHERE org_id = $1`, orgID, db.NullString(secret))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) DeleteConfig(ctx context.Context, orgID string) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `DELETE FROM webhook_configs WHERE org_id = $1`, orgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) AppendDelivery(ctx context.Context, d *domain.DeliveryLog) error {
	var code sql.NullInt32
	if d.StatusCode != nil {
		code = sql.NullInt32{Int32: int32(*d.StatusCode), Valid: true}
	}
	_, err := r.conn.ExecContext(ctx, `
INSERT INTO webhook_delivery_logs (id, org_id, event, payload, signature, status, status_code, response_body, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.OrgID, d.Event, []byte(d.Payload), db.NullString(d.Signature), d.Status, code, db.NullString(d.ResponseBody), d.Attempts, d.CreatedAt,
	)
	return err
}

// ListDeliveries returns the tenant's delivery log, newest first.
func (r *PostgresRepository) ListDeliveries(ctx context.Context, orgID string, limit, offset int32) ([]*domain.DeliveryLog, error) {
	rows, err := r.conn.QueryContext(ctx, `
SELECT id, org_id, event, payload, signature, status, status_code, response_body, attempts, created_at
FROM webhook_delivery_logs WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.DeliveryLog
	for rows.Next() {
		var (
			d         domain.DeliveryLog
			payload   []byte
			signature sql.NullString
			code      sql.NullInt32
			body      sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.OrgID, &d.Event, &payload, &signature, &d.Status, &code, &body, &d.Attempts, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Payload = payload
		d.Signature = signature.String
		d.ResponseBody = body.String
		if code.Valid {
			c := int(code.Int32)
			d.StatusCode = &c
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
