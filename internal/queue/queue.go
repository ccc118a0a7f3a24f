// Package queue is the durable, named background job queue. Jobs move
// waiting -> active -> completed, or back to waiting with attempts+1 and a
// backoff delay when the handler fails, ending in failed after MaxAttempts.
// Delivery is at-least-once; handlers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Queue names. The set is closed; Enqueue rejects anything else.
const (
	OutboundEmail    = "outbound-email"
	UserNotification = "user-notification"
	DomainEventLog   = "domain-event-log"
	AnalyticsRollup  = "analytics-rollup"
	AuditLog         = "audit-log"
	TokenCleanup     = "token-cleanup"
)

// Names lists every queue in worker start order.
var Names = []string{OutboundEmail, UserNotification, DomainEventLog, AnalyticsRollup, AuditLog, TokenCleanup}

// Known reports whether name is one of Names.
func Known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

var (
	// ErrUnknownQueue is returned when enqueueing to a name outside Names.
	ErrUnknownQueue = errors.New("queue: unknown queue")
	// ErrJobNotFound is returned by operator operations for a missing job id.
	ErrJobNotFound = errors.New("queue: job not found")
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one unit of background work.
type Job struct {
	ID            string
	Queue         string
	Payload       json.RawMessage
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	State         State
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("queue: decode %s payload: %w", j.Queue, err)
	}
	return nil
}

// Queue accepts jobs. Implementations: *Redis (durable) and Null (disabled).
type Queue interface {
	// Enqueue stores payload (JSON-encoded unless already []byte/json.RawMessage) on the named queue and returns the job id.
	Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (string, error)
	// Enabled is false for the null queue.
	Enabled() bool
}

type enqueueOptions struct {
	jobID       string
	delay       time.Duration
	maxAttempts int
}

// EnqueueOption customises a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithJobID fixes the job id, e.g. to reuse a domain id for idempotent handlers.
func WithJobID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.jobID = id }
}

// WithDelay defers the first attempt.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

// WithMaxAttempts overrides the queue's retry ceiling for this job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("queue: encode payload: %w", err)
		}
		return b, nil
	}
}

// Null drops every job. Used when background processing is disabled or the store is unreachable.
type Null struct{}

func (Null) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (string, error) {
	return "", nil
}

func (Null) Enabled() bool { return false }
