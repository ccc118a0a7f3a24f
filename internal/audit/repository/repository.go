package repository

import (
	"context"

	"flowcrm/backend/internal/audit/domain"
)

// Filter narrows ListByOrgFiltered. Empty fields match everything.
type Filter struct {
	UserID     string
	Action     string
	EntityType string
	EntityID   string
}

// Repository defines persistence for audit logs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AuditLog, error)
	ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.AuditLog, error)
	ListByOrgFiltered(ctx context.Context, orgID string, f Filter, limit, offset int32) ([]*domain.AuditLog, error)
	// Create inserts a; inserting an ID that already exists is a no-op so retried writes stay single.
	Create(ctx context.Context, a *domain.AuditLog) error
}
