package domain

import (
	"encoding/json"
	"time"
)

// AuditLog is one append-only audit entry. Entries are never updated; inserting an existing ID is a no-op.
type AuditLog struct {
	ID         string          `json:"id"`
	OrgID      string          `json:"orgId"`
	UserID     string          `json:"userId,omitempty"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Changes    json.RawMessage `json:"changes,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}
