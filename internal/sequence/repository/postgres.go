package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"flowcrm/backend/internal/db"
	"flowcrm/backend/internal/sequence/domain"
)

type PostgresRepository struct {
	conn db.DBTX
}

// NewPostgresRepository returns a sequence repository backed by conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{conn: conn}
}

func (r *PostgresRepository) CreateSequence(ctx context.Context, s *domain.Sequence) error {
	const insertSeq = `INSERT INTO follow_up_sequences (id, org_id, name, is_active, created_at) VALUES ($1, $2, $3, $4, $5)`
	args := []any{s.ID, s.OrgID, s.Name, s.IsActive, s.CreatedAt}
	if len(s.Steps) == 0 {
		_, err := r.conn.ExecContext(ctx, insertSeq, args...)
		return err
	}
	values := make([]string, 0, len(s.Steps))
	for _, st := range s.Steps {
		n := len(args)
		values = append(values, fmt.Sprintf("($%d, $1, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6))
		args = append(args, st.ID, st.StepOrder, st.DelayDays, string(st.ActionType), db.NullString(st.Subject), st.Content)
	}
	q := `WITH seq AS (` + insertSeq + `)
INSERT INTO follow_up_steps (id, sequence_id, step_order, delay_days, action_type, subject, content) VALUES ` + strings.Join(values, ", ")
	_, err := r.conn.ExecContext(ctx, q, args...)
	return err
}

func (r *PostgresRepository) GetSequence(ctx context.Context, orgID, id string) (*domain.Sequence, error) {
	var s domain.Sequence
	err := r.conn.QueryRowContext(ctx,
		`SELECT id, org_id, name, is_active, created_at FROM follow_up_sequences WHERE id = $1 AND org_id = $2`,
		id, orgID,
	).Scan(&s.ID, &s.OrgID, &s.Name, &s.IsActive, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	steps, err := r.stepsFor(ctx, []string{s.ID})
	if err != nil {
		return nil, err
	}
	s.Steps = steps[s.ID]
	return &s, nil
}

func (r *PostgresRepository) ListSequences(ctx context.Context, orgID string) ([]*domain.Sequence, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT id, org_id, name, is_active, created_at FROM follow_up_sequences WHERE org_id = $1 ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		out []*domain.Sequence
		ids []string
	)
	for rows.Next() {
		var s domain.Sequence
		if err := rows.Scan(&s.ID, &s.OrgID, &s.Name, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	steps, err := r.stepsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, s := range out {
		s.Steps = steps[s.ID]
	}
	return out, nil
}

func (r *PostgresRepository) stepsFor(ctx context.Context, sequenceIDs []string) (map[string][]domain.Step, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT id, sequence_id, step_order, delay_days, action_type, subject, content
		 FROM follow_up_steps WHERE sequence_id = ANY($1) ORDER BY sequence_id, step_order`,
		pq.Array(sequenceIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]domain.Step, len(sequenceIDs))
	for rows.Next() {
		var (
			st      domain.Step
			action  string
			subject sql.NullString
		)
		if err := rows.Scan(&st.ID, &st.SequenceID, &st.StepOrder, &st.DelayDays, &action, &subject, &st.Content); err != nil {
			return nil, err
		}
		st.ActionType = domain.ActionType(action)
		st.Subject = subject.String
		out[st.SequenceID] = append(out[st.SequenceID], st)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetActive(ctx context.Context, orgID, id string, active bool) (bool, error) {
	res, err := r.conn.ExecContext(ctx,
		`UPDATE follow_up_sequences SET is_active = $3 WHERE id = $1 AND org_id = $2`, id, orgID, active)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const enrollmentColumns = `id, sequence_id, lead_id, org_id, current_step, status, next_run_at, enrolled_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row scanner) (*domain.Enrollment, error) {
	var (
		e       domain.Enrollment
		status  string
		nextRun sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.SequenceID, &e.LeadID, &e.OrgID, &e.CurrentStep, &status, &nextRun, &e.EnrolledAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = domain.Status(status)
	e.NextRunAt = db.TimePtr(nextRun)
	return &e, nil
}

// UpsertEnrollment relies on the (sequence_id, lead_id) unique index: a second enrollment
// overwrites the first and restarts it from step 0, keeping the row id.
func (r *PostgresRepository) UpsertEnrollment(ctx context.Context, e *domain.Enrollment) (*domain.Enrollment, error) {
	out, err := scanEnrollment(r.conn.QueryRowContext(ctx, `
INSERT INTO follow_up_enrollments (id, sequence_id, lead_id, org_id, current_step, status, next_run_at, enrolled_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (sequence_id, lead_id) DO UPDATE SET
	current_step = EXCLUDED.current_step,
	status = EXCLUDED.status,
	next_run_at = EXCLUDED.next_run_at,
	enrolled_at = EXCLUDED.enrolled_at,
	updated_at = EXCLUDED.updated_at
RETURNING `+enrollmentColumns,
		e.ID, e.SequenceID, e.LeadID, e.OrgID, e.CurrentStep, string(e.Status), db.NullTime(e.NextRunAt), e.EnrolledAt,
	))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) GetEnrollment(ctx context.Context, orgID, sequenceID, leadID string) (*domain.Enrollment, error) {
	e, err := scanEnrollment(r.conn.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM follow_up_enrollments WHERE org_id = $1 AND sequence_id = $2 AND lead_id = $3`,
		orgID, sequenceID, leadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *PostgresRepository) Unenroll(ctx context.Context, orgID, sequenceID, leadID string, now time.Time) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `
UPDATE follow_up_enrollments SET status = 'cancelled', next_run_at = NULL, updated_at = $4
WHERE org_id = $1 AND sequence_id = $2 AND lead_id = $3 AND status = 'active'`,
		orgID, sequenceID, leadID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Enrollment, error) {
	rows, err := r.conn.QueryContext(ctx, `
SELECT e.id, e.sequence_id, e.lead_id, e.org_id, e.current_step, e.status, e.next_run_at, e.enrolled_at, e.updated_at
FROM follow_up_enrollments e
JOIN follow_up_sequences s ON s.id = e.sequence_id AND s.is_active
WHERE e.status = 'active' AND e.next_run_at <= $1
ORDER BY e.next_run_at
LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Claim(ctx context.Context, id string, from int, now time.Time, next Transition) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `
UPDATE follow_up_enrollments SET current_step = $4, status = $5, next_run_at = $6, updated_at = $3
WHERE id = $1 AND status = 'active' AND current_step = $2 AND next_run_at <= $3`,
		id, from, now, next.Step, string(next.Status), db.NullTime(next.NextRunAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Revert only matches a row still in the state Claim left it in, so an unenroll or
// re-enroll that happened in between wins.
func (r *PostgresRepository) Revert(ctx context.Context, id string, from int, retryAt time.Time) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `
UPDATE follow_up_enrollments SET current_step = $2, status = 'active', next_run_at = $3, updated_at = now()
WHERE id = $1 AND current_step = $2 + 1 AND status IN ('active', 'completed')`,
		id, from, retryAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `
UPDATE follow_up_enrollments SET status = 'cancelled', next_run_at = NULL, updated_at = $2
WHERE id = $1 AND status <> 'cancelled'`, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CRMRepository reads leads and writes tasks in the CRM tables.
type CRMRepository struct {
	conn db.DBTX
}

func NewCRMRepository(conn db.DBTX) *CRMRepository {
	return &CRMRepository{conn: conn}
}

func (r *CRMRepository) GetLead(ctx context.Context, orgID, id string) (*domain.Lead, error) {
	var (
		l                            domain.Lead
		email, company, phone, owner sql.NullString
	)
	err := r.conn.QueryRowContext(ctx,
		`SELECT id, org_id, name, email, company, phone, status, owner_id FROM leads WHERE id = $1 AND org_id = $2`,
		id, orgID,
	).Scan(&l.ID, &l.OrgID, &l.Name, &email, &company, &phone, &l.Status, &owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	l.Email, l.Company, l.Phone, l.OwnerID = email.String, company.String, phone.String, owner.String
	return &l, nil
}

func (r *CRMRepository) CreateTask(ctx context.Context, t *domain.Task) error {
	_, err := r.conn.ExecContext(ctx, `
INSERT INTO tasks (id, org_id, title, description, lead_id, assignee_id, due_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`,
		t.ID, t.OrgID, t.Title, db.NullString(t.Description), db.NullString(t.LeadID), db.NullString(t.AssigneeID), db.NullTime(t.DueAt), t.CreatedAt)
	return err
}
