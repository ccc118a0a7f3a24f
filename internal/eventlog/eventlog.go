// Package eventlog writes the domain event log. The domain-event-log queue carries one Record
// per emitted event; the Writer fans it out to every configured sink and the structured logger.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flowcrm/backend/internal/queue"
)

// Record is one domain event as stored in the log. It is also the domain-event-log job payload.
type Record struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	TenantID    string         `json:"tenantId"`
	ActorUserID string         `json:"actorUserId,omitempty"`
	EntityID    string         `json:"entityId"`
	EntityLabel string         `json:"entityLabel,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

// Sink receives serialized records. raw is the exact JSON of rec.
type Sink interface {
	Write(ctx context.Context, rec Record, raw []byte) error
	Close() error
}

// Writer fans records out to sinks.
type Writer struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewWriter drops untyped nil sinks. The sink constructors return nil when unconfigured and
// their methods are no-ops on a nil receiver, so optional sinks can be passed unconditionally.
func NewWriter(logger *zap.Logger, sinks ...Sink) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{logger: logger}
	for _, s := range sinks {
		if s != nil {
			w.sinks = append(w.sinks, s)
		}
	}
	return w
}

// Write logs the record and hands it to every sink. Sink failures are joined; a failure in one
// sink does not skip the others.
func (w *Writer) Write(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("eventlog: encode: %w", err)
	}
	w.logger.Info("domain event",
		zap.String("event_id", rec.ID),
		zap.String("kind", rec.Kind),
		zap.String("org_id", rec.TenantID),
		zap.String("actor_user_id", rec.ActorUserID),
		zap.String("entity_id", rec.EntityID),
		zap.Time("occurred_at", rec.OccurredAt),
	)
	var errs []error
	for _, s := range w.sinks {
		if err := s.Write(ctx, rec, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleJob processes one domain-event-log job.
func (w *Writer) HandleJob(ctx context.Context, job *queue.Job) error {
	var rec Record
	if err := job.Decode(&rec); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = job.ID
	}
	return w.Write(ctx, rec)
}

// Close closes every sink.
func (w *Writer) Close() error {
	var errs []error
	for _, s := range w.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
