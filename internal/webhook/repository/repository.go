package repository

import (
	"context"

	"flowcrm/backend/internal/webhook/domain"
)

// Repository defines persistence for webhook configs and the delivery log.
type Repository interface {
	// GetConfig returns the tenant's config, or nil if none.
	GetConfig(ctx context.Context, orgID string) (*domain.Config, error)
	// UpsertConfig creates or replaces URL and events. The secret is only written on insert.
	UpsertConfig(ctx context.Context, c *domain.Config) (*domain.Config, error)
	// UpdateSecret replaces the secret and reports whether a config existed.
	UpdateSecret(ctx context.Context, orgID, secret string) (bool, error)
	DeleteConfig(ctx context.Context, orgID string) (bool, error)
	AppendDelivery(ctx context.Context, d *domain.DeliveryLog) error
	ListDeliveries(ctx context.Context, orgID string, limit, offset int32) ([]*domain.DeliveryLog, error)
}
