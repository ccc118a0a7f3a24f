package server

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	automationhandler "flowcrm/backend/internal/automation/handler"
)

// Pinger checks a backing store (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks the policy engine (e.g. *engine.OPAAuthorizer).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Health drives the serving status of a grpc health server from readiness probes.
type Health struct {
	srv     *health.Server
	checks  map[string]func(context.Context) error
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealth returns a Health whose readiness depends on db and policy. Nil checks are skipped.
func NewHealth(db Pinger, policy PolicyChecker, logger *zap.Logger) *Health {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Health{
		srv:     health.NewServer(),
		checks:  make(map[string]func(context.Context) error),
		timeout: 2 * time.Second,
		logger:  logger,
	}
	if db != nil {
		h.checks["database"] = db.PingContext
	}
	if policy != nil {
		h.checks["policy"] = policy.HealthCheck
	}
	return h
}

// Server is the grpc health service to register.
func (h *Health) Server() *health.Server { return h.srv }

// Check runs every probe once and updates the overall and AutomationService status.
func (h *Health) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	for name, check := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := check(cctx)
		cancel()
		if err != nil {
			h.logger.Warn("readiness probe failed", zap.String("probe", name), zap.Error(err))
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(automationhandler.ServiceName, st)
	return st
}

// Run re-checks every interval until ctx is done, then marks everything NOT_SERVING.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
