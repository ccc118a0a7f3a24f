package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository_RollupDayUsesUTCDayBounds(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	now := time.Date(2026, 5, 5, 1, 0, 0, 0, time.UTC)
	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (org_id, day) DO UPDATE SET`)).
		WithArgs("t1", "2026-05-04", start, start.AddDate(0, 0, 1), now).
		WillReturnRows(sqlmock.NewRows([]string{"org_id", "day", "leads_created", "deals_won", "deals_lost", "won_value", "tasks_completed", "events_total", "updated_at"}).
			AddRow("t1", start, 3, 1, 0, "5000.00", 2, 9, now))

	r, err := NewPostgresRepository(conn).RollupDay(context.Background(), "t1", time.Date(2026, 5, 4, 17, 45, 0, 0, time.UTC), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.LeadsCreated)
	assert.Equal(t, 5000.0, r.WonValue)
	assert.Equal(t, int64(9), r.EventsTotal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_DashboardStatsWinRate(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	now := time.Date(2026, 5, 5, 1, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT`).
		WithArgs("t1", "u1", now.AddDate(0, 0, -30), now).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}).
			AddRow(10, 4, 3, "1200.50", 3, "9000", 1, 5, 2))

	s, err := NewPostgresRepository(conn).DashboardStats(context.Background(), "t1", "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.TotalLeads)
	assert.Equal(t, 1200.5, s.PipelineValue)
	assert.InDelta(t, 0.75, s.WinRate, 1e-9)
	assert.Equal(t, "u1", s.ScopedToUserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	got := Day(time.Date(2026, 5, 5, 3, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), got)
}
