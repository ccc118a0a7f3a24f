package repository

import (
	"context"
	"time"

	"flowcrm/backend/internal/analytics/domain"
	"flowcrm/backend/internal/db"
)

type PostgresRepository struct {
	conn db.DBTX
}

func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{conn: conn}
}

// Day truncates t to the start of its UTC day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const rollupColumns = `org_id, day, leads_created, deals_won, deals_lost, won_value, tasks_completed, events_total, updated_at`

func (r *PostgresRepository) RollupDay(ctx context.Context, orgID string, day, now time.Time) (*domain.DailyRollup, error) {
	start := Day(day)
	end := start.AddDate(0, 0, 1)
	var out domain.DailyRollup
	err := r.conn.QueryRowContext(ctx, `
INSERT INTO analytics_daily_rollups (`+rollupColumns+`)
SELECT $1, $2::date,
	(SELECT count(*) FROM leads WHERE org_id = $1 AND created_at >= $3 AND created_at < $4),
	(SELECT count(*) FROM deals WHERE org_id = $1 AND stage = 'won' AND closed_at >= $3 AND closed_at < $4),
	(SELECT count(*) FROM deals WHERE org_id = $1 AND stage = 'lost' AND closed_at >= $3 AND closed_at < $4),
	(SELECT COALESCE(sum(value), 0) FROM deals WHERE org_id = $1 AND stage = 'won' AND closed_at >= $3 AND closed_at < $4),
	(SELECT count(*) FROM tasks WHERE org_id = $1 AND completed_at >= $3 AND completed_at < $4),
	(SELECT count(*) FROM audit_logs WHERE org_id = $1 AND created_at >= $3 AND created_at < $4),
	$5
ON CONFLICT (org_id, day) DO UPDATE SET
	leads_created = EXCLUDED.leads_created,
	deals_won = EXCLUDED.deals_won,
	deals_lost = EXCLUDED.deals_lost,
	won_value = EXCLUDED.won_value,
	tasks_completed = EXCLUDED.tasks_completed,
	events_total = EXCLUDED.events_total,
	updated_at = EXCLUDED.updated_at
RETURNING `+rollupColumns,
		orgID, start.Format("2006-01-02"), start, end, now,
	).Scan(&out.OrgID, &out.Day, &out.LeadsCreated, &out.DealsWon, &out.DealsLost, &out.WonValue, &out.TasksCompleted, &out.EventsTotal, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *PostgresRepository) ListRollups(ctx context.Context, orgID string, from, to time.Time) ([]domain.DailyRollup, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT `+rollupColumns+` FROM analytics_daily_rollups WHERE org_id = $1 AND day >= $2::date AND day < $3::date ORDER BY day`,
		orgID, Day(from).Format("2006-01-02"), Day(to).Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DailyRollup
	for rows.Next() {
		var d domain.DailyRollup
		if err := rows.Scan(&d.OrgID, &d.Day, &d.LeadsCreated, &d.DealsWon, &d.DealsLost, &d.WonValue, &d.TasksCompleted, &d.EventsTotal, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DashboardStats(ctx context.Context, orgID, ownerID string, now time.Time) (*domain.DashboardStats, error) {
	var s domain.DashboardStats
	err := r.conn.QueryRowContext(ctx, `
SELECT
	(SELECT count(*) FROM leads WHERE org_id = $1 AND ($2::text = '' OR owner_id = $2)),
	(SELECT count(*) FROM leads WHERE org_id = $1 AND ($2::text = '' OR owner_id = $2) AND created_at >= $3),
	(SELECT count(*) FROM deals WHERE org_id = $1 AND ($2::text = '' OR owner_id = $2) AND stage NOT IN ('won', 'lost')),
	(SELECT COALESCE(sum(value), 0) FROM deals WHERE org_id = $1 AND ($2::text = '' OR owner_id = $2) AND stage NOT IN ('won', 'lost')),
	(SELECT count(*) FROM deals WHERE org_id = $1 AND ($2::text = '' OR owner_id = $2) AND stage = 'won'),
	(SELECT COALESCE(sum(value), 0) FROM deals WHERE org_id = $1 AND ($2::text = '' OR owner_id = $2) AND stage = 'won'),
	(SELECT count(*) FROM deals WHERE org_id = $1 AND ($2::text = '' OR owner_id = $2) AND stage = 'lost'),
	(SELECT count(*) FROM tasks WHERE org_id = $1 AND ($2::text = '' OR assignee_id = $2) AND completed_at IS NULL),
	(SELECT count(*) FROM tasks WHERE org_id = $1 AND ($2::text = '' OR assignee_id = $2) AND completed_at IS NULL AND due_at < $4)`,
		orgID, ownerID, now.AddDate(0, 0, -30), now,
	).Scan(&s.TotalLeads, &s.NewLeads30d, &s.OpenDeals, &s.PipelineValue, &s.WonDeals, &s.WonValue, &s.LostDeals, &s.OpenTasks, &s.OverdueTasks)
	if err != nil {
		return nil, err
	}
	if closed := s.WonDeals + s.LostDeals; closed > 0 {
		s.WinRate = float64(s.WonDeals) / float64(closed)
	}
	s.GeneratedAt = now
	s.ScopedToUserID = ownerID
	return &s, nil
}
