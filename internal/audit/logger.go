// Package audit records the append-only audit trail. Writes are best-effort for the caller:
// a failed synchronous insert is handed to the audit-log queue under the same ID and retried
// there, so each entry lands at most once.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowcrm/backend/internal/audit/domain"
	auditrepo "flowcrm/backend/internal/audit/repository"
	"flowcrm/backend/internal/queue"
)

// SentinelOrgID is the org_id used for audit events that have no org.
const SentinelOrgID = "_system"

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, orgID, userID, action, entityType, entityID string, changes map[string]any)
}

// Logger implements AuditLogger using the audit repository with the audit-log queue as fallback.
type Logger struct {
	repo   auditrepo.Repository
	queue  queue.Queue
	logger *zap.Logger
	now    func() time.Time
}

// NewLogger returns a Logger that persists to repo and falls back to q. q may be nil.
func NewLogger(repo auditrepo.Repository, q queue.Queue, logger *zap.Logger) *Logger {
	if q == nil {
		q = queue.Null{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{repo: repo, queue: q, logger: logger, now: time.Now}
}

// NewEntry builds an entry with a fresh ID and timestamp. changes may be nil.
func (l *Logger) NewEntry(orgID, userID, action, entityType, entityID string, changes map[string]any) *domain.AuditLog {
	if orgID == "" {
		orgID = SentinelOrgID
	}
	entry := &domain.AuditLog{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		CreatedAt:  l.now().UTC(),
	}
	if len(changes) > 0 {
		if b, err := json.Marshal(changes); err == nil {
			entry.Changes = b
		} else {
			l.logger.Warn("audit: dropping unencodable changes", zap.String("action", action), zap.Error(err))
		}
	}
	return entry
}

// Record writes entry now. If the insert fails the entry is enqueued for a durable retry.
// The returned error is non-nil only when both paths failed (or the queue is disabled).
func (l *Logger) Record(ctx context.Context, entry *domain.AuditLog) error {
	if l.repo == nil {
		return nil
	}
	err := l.repo.Create(ctx, entry)
	if err == nil {
		return nil
	}
	l.logger.Warn("audit: write failed, deferring to queue",
		zap.String("audit_id", entry.ID), zap.String("action", entry.Action), zap.Error(err))
	if !l.queue.Enabled() {
		return fmt.Errorf("audit: write %s: %w", entry.ID, err)
	}
	if _, qerr := l.queue.Enqueue(ctx, queue.AuditLog, entry, queue.WithJobID("audit-"+entry.ID)); qerr != nil {
		return fmt.Errorf("audit: write %s: %w (enqueue: %v)", entry.ID, err, qerr)
	}
	return nil
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, orgID, userID, action, entityType, entityID string, changes map[string]any) {
	entry := l.NewEntry(orgID, userID, action, entityType, entityID, changes)
	if err := l.Record(ctx, entry); err != nil {
		l.logger.Error("audit: event lost", zap.String("action", action), zap.String("entity_id", entityID), zap.Error(err))
	}
}

// HandleJob persists a deferred entry. Safe to run more than once for the same job.
func (l *Logger) HandleJob(ctx context.Context, job *queue.Job) error {
	var entry domain.AuditLog
	if err := job.Decode(&entry); err != nil {
		return err
	}
	if entry.ID == "" {
		return fmt.Errorf("audit: job %s has no entry id", job.ID)
	}
	return l.repo.Create(ctx, &entry)
}
