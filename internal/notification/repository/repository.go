package repository

import (
	"context"

	"flowcrm/backend/internal/notification/domain"
)

// Repository defines persistence for notifications. No method ever sets is_read back to false.
type Repository interface {
	// CreateBatch inserts all rows in one statement. Existing IDs are skipped.
	CreateBatch(ctx context.Context, ns []*domain.Notification) error
	// MarkRead marks one notification owned by userID as read. Returns false when no such row exists.
	MarkRead(ctx context.Context, userID, id string) (bool, error)
	// MarkAllRead marks every unread notification of userID and returns how many changed.
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	List(ctx context.Context, userID string, unreadOnly bool, limit, offset int32) ([]*domain.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}
