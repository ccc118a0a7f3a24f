package repository

import (
	"context"
	"time"

	"flowcrm/backend/internal/analytics/domain"
)

type Repository interface {
	// RollupDay recomputes and upserts the counters for the UTC day containing day.
	RollupDay(ctx context.Context, orgID string, day, now time.Time) (*domain.DailyRollup, error)
	// ListRollups returns rollups with from <= day < to, oldest first.
	ListRollups(ctx context.Context, orgID string, from, to time.Time) ([]domain.DailyRollup, error)
	// DashboardStats computes live totals. An empty ownerID means tenant-wide.
	DashboardStats(ctx context.Context, orgID, ownerID string, now time.Time) (*domain.DashboardStats, error)
}
