package repository

import (
	"context"
	"time"

	"flowcrm/backend/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// DeleteExpired removes sessions that expired or were revoked before the cutoff and returns how many rows went.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
