// Package analytics serves the dashboard overview, read-through cached per tenant and role,
// and maintains the daily rollup table from analytics-rollup jobs.
package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flowcrm/backend/internal/analytics/domain"
	analyticsrepo "flowcrm/backend/internal/analytics/repository"
	"flowcrm/backend/internal/cache"
	membershipdomain "flowcrm/backend/internal/membership/domain"
	"flowcrm/backend/internal/queue"
	"flowcrm/backend/internal/telemetry"
)

const dailyWindow = 30

type Service struct {
	repo    analyticsrepo.Repository
	cache   cache.Cache
	ttl     time.Duration
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewService(repo analyticsrepo.Repository, c cache.Cache, ttl time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.Null{}
	}
	return &Service{repo: repo, cache: c, ttl: ttl, logger: logger, metrics: metrics, now: time.Now}
}

// Dashboard returns the overview for the caller. Managers and above see the whole tenant;
// members see only their own leads, deals and tasks.
func (s *Service) Dashboard(ctx context.Context, tenantID string, role membershipdomain.Role, userID string) (*domain.DashboardStats, error) {
	ownerID, name := "", "overview"
	if role == membershipdomain.RoleMember || !role.Valid() {
		ownerID, name = userID, "overview:"+userID
	}
	key := cache.DashboardKey(tenantID, string(role), name)
	return cache.GetOrCompute(ctx, s.cache, s.logger, s.metrics, key, s.ttl, func(ctx context.Context) (*domain.DashboardStats, error) {
		now := s.now().UTC()
		stats, err := s.repo.DashboardStats(ctx, tenantID, ownerID, now)
		if err != nil {
			return nil, fmt.Errorf("analytics: dashboard stats: %w", err)
		}
		if ownerID == "" {
			daily, err := s.repo.ListRollups(ctx, tenantID, now.AddDate(0, 0, -dailyWindow), now.AddDate(0, 0, 1))
			if err != nil {
				return nil, fmt.Errorf("analytics: list rollups: %w", err)
			}
			stats.Daily = daily
		}
		return stats, nil
	})
}

// RollupPayload is the analytics-rollup job payload. Day is YYYY-MM-DD in UTC.
type RollupPayload struct {
	TenantID string `json:"tenantId"`
	Day      string `json:"day"`
}

// NewRollupPayload builds the payload for the day containing at.
func NewRollupPayload(tenantID string, at time.Time) RollupPayload {
	return RollupPayload{TenantID: tenantID, Day: at.UTC().Format(time.DateOnly)}
}

// HandleJob recomputes one tenant-day and drops the tenant's cached dashboards.
// Running it twice yields the same row.
func (s *Service) HandleJob(ctx context.Context, job *queue.Job) error {
	var p RollupPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	day, err := time.Parse(time.DateOnly, p.Day)
	if err != nil || p.TenantID == "" {
		s.logger.Warn("dropping malformed rollup job", zap.String("job_id", job.ID), zap.String("day", p.Day))
		return nil
	}
	r, err := s.repo.RollupDay(ctx, p.TenantID, day, s.now().UTC())
	if err != nil {
		return fmt.Errorf("analytics: rollup %s %s: %w", p.TenantID, p.Day, err)
	}
	s.logger.Debug("daily rollup updated", zap.String("org_id", p.TenantID), zap.String("day", p.Day), zap.Int64("events_total", r.EventsTotal))
	// A dashboard read between the event and this rollup may have cached the old daily series.
	if _, err := s.cache.DeleteByPrefix(ctx, cache.TenantPrefix(p.TenantID)); err != nil {
		s.logger.Warn("dashboard cache invalidation after rollup failed", zap.String("org_id", p.TenantID), zap.Error(err))
	}
	return nil
}
