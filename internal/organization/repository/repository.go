package repository

import (
	"context"

	"flowcrm/backend/internal/organization/domain"
)

// Repository defines persistence for organizations.
type Repository interface {
	GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error)
	// CreateOrganization inserts o; an existing row with the same id is left untouched.
	CreateOrganization(ctx context.Context, o *domain.Org) error
}
