package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	auditdomain "flowcrm/backend/internal/audit/domain"
	"flowcrm/backend/internal/cache"
	"flowcrm/backend/internal/queue"
	"flowcrm/backend/internal/telemetry"
)

// AuditRecorder is the synchronous audit write the emitter performs. *audit.Logger implements it.
type AuditRecorder interface {
	NewEntry(orgID, userID, action, entityType, entityID string, changes map[string]any) *auditdomain.AuditLog
	Record(ctx context.Context, entry *auditdomain.AuditLog) error
}

// WebhookDispatcher delivers the event to the tenant's webhook. *webhook.Dispatcher implements it.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, tenantID, event string, data any) error
}

// Emitter is the production Sink.
type Emitter struct {
	audit    AuditRecorder
	queue    queue.Queue
	cache    cache.Cache
	webhooks WebhookDispatcher
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	timeout  time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

type Option func(*Emitter)

func WithLogger(l *zap.Logger) Option { return func(e *Emitter) { e.logger = l } }

func WithMetrics(m *telemetry.Metrics) Option { return func(e *Emitter) { e.metrics = m } }

// WithTimeout bounds each background step (default telemetry.BackgroundTimeout).
func WithTimeout(d time.Duration) Option { return func(e *Emitter) { e.timeout = d } }

func WithClock(now func() time.Time) Option { return func(e *Emitter) { e.now = now } }

// NewEmitter wires the four fan-out targets. nil queue, cache or webhooks fall back to no-ops.
func NewEmitter(auditor AuditRecorder, q queue.Queue, c cache.Cache, webhooks WebhookDispatcher, opts ...Option) *Emitter {
	if q == nil {
		q = queue.Null{}
	}
	if c == nil {
		c = cache.Null{}
	}
	e := &Emitter{
		audit:    auditor,
		queue:    q,
		cache:    c,
		webhooks: webhooks,
		logger:   zap.NewNop(),
		timeout:  telemetry.BackgroundTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit validates the event, writes its audit entry before returning, and starts the
// background fan-out. Only validation errors are returned; each fan-out step logs and
// swallows its own failure and none of them waits for another.
func (em *Emitter) Emit(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = em.now().UTC()
	}
	em.metrics.EventEmitted(ctx, string(e.Kind))
	log := em.logger.With(zap.String("event_id", e.ID), zap.String("kind", string(e.Kind)), zap.String("org_id", e.TenantID))

	em.recordAudit(ctx, log, e)

	if em.queue.Enabled() {
		specs := Plan(e)
		telemetry.RunAsync(&em.wg, log, "event.enqueue", em.timeout, func(ctx context.Context) error {
			return em.enqueue(ctx, specs)
		})
	}
	telemetry.RunAsync(&em.wg, log, "event.cache_invalidate", em.timeout, func(ctx context.Context) error {
		_, err := em.cache.DeleteByPrefix(ctx, cache.TenantPrefix(e.TenantID))
		return err
	})
	if em.webhooks != nil {
		telemetry.RunAsync(&em.wg, log, "event.webhook", em.timeout, func(ctx context.Context) error {
			return em.webhooks.Dispatch(ctx, e.TenantID, e.Kind.WebhookEvent(), webhookData(e))
		})
	}
	return nil
}

func (em *Emitter) recordAudit(ctx context.Context, log *zap.Logger, e Event) {
	if em.audit == nil {
		return
	}
	changes := map[string]any{}
	for k, v := range e.Metadata {
		changes[k] = v
	}
	if e.EntityLabel != "" {
		changes["label"] = e.EntityLabel
	}
	entry := em.audit.NewEntry(e.TenantID, e.ActorUserID, e.Kind.Action(), e.Kind.EntityType(), e.EntityID, changes)
	if err := em.audit.Record(ctx, entry); err != nil {
		log.Error("audit entry not written", zap.Error(err))
	}
}

func (em *Emitter) enqueue(ctx context.Context, specs []JobSpec) error {
	var errs []error
	for _, s := range specs {
		if _, err := em.queue.Enqueue(ctx, s.Queue, s.Payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Queue, err))
		}
	}
	return errors.Join(errs...)
}

// webhookData is the event as receivers see it. Fan-out control flags and the assignee's
// email address stay internal.
func webhookData(e Event) map[string]any {
	data := map[string]any{
		"id":          e.ID,
		"tenantId":    e.TenantID,
		"entityId":    e.EntityID,
		"entityLabel": e.EntityLabel,
		"actorUserId": e.ActorUserID,
		"occurredAt":  e.OccurredAt,
	}
	meta := map[string]any{}
	for k, v := range e.Metadata {
		switch k {
		case MetaNotifyAssignee, MetaBroadcastToTenant, MetaAssigneeEmail:
			continue
		}
		meta[k] = v
	}
	if len(meta) > 0 {
		data["metadata"] = meta
	}
	return data
}

// Close waits for in-flight background steps, up to ctx's deadline.
func (em *Emitter) Close(ctx context.Context) error {
	return telemetry.Wait(ctx, &em.wg)
}
