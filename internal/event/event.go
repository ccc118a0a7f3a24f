// Package event is the domain event emitter. Every mutating handler reports what it did through
// a Sink; the Emitter writes the audit entry synchronously and then, off the request path,
// enqueues the background jobs chosen by the dispatch table, invalidates the tenant's cached
// dashboards and hands the event to the webhook dispatcher.
package event

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownKind is returned before any side effect for a kind outside the closed set.
	ErrUnknownKind = errors.New("event: unknown kind")
	// ErrMissingTenant is returned for an event without a tenant.
	ErrMissingTenant = errors.New("event: tenant id is required")
)

// Metadata keys read by the fan-out actions.
const (
	MetaNotifyAssignee    = "notifyAssignee"
	MetaAssigneeID        = "assigneeId"
	MetaAssigneeEmail     = "assigneeEmail"
	MetaPreviousStage     = "previousStage"
	MetaNewStage          = "newStage"
	MetaDealValue         = "dealValue"
	MetaBroadcastToTenant = "broadcastToTenant"
)

// Event describes something that just happened. ID and OccurredAt are set by the emitter
// when empty.
type Event struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	ActorUserID string         `json:"actorUserId"`
	TenantID    string         `json:"tenantId"`
	EntityID    string         `json:"entityId"`
	EntityLabel string         `json:"entityLabel"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

// Sink accepts events. Handlers depend on this interface; Emitter is the production
// implementation and Recorder the test double.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Validate checks the fields every event needs.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.TenantID == "" {
		return ErrMissingTenant
	}
	return nil
}

func (e Event) metaBool(key string) bool {
	switch v := e.Metadata[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func (e Event) metaString(key string) string {
	switch v := e.Metadata[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
