package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"flowcrm/backend/internal/queue"
)

// Payload modes.
const (
	ModeUser   = "user"
	ModeTenant = "tenant"
)

// JobPayload is the user-notification queue payload.
type JobPayload struct {
	Mode          string `json:"mode"`
	UserID        string `json:"userId,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	ExcludeUserID string `json:"excludeUserId,omitempty"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	Link          string `json:"link,omitempty"`
}

func (p JobPayload) content() Content {
	return Content{Type: p.Type, Title: p.Title, Message: p.Message, Link: p.Link}
}

// HandleJob processes a user-notification job. Notification IDs derive from the job ID so a
// redelivered job rewrites the same rows instead of duplicating them.
func (s *Service) HandleJob(ctx context.Context, job *queue.Job) error {
	var p JobPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	switch p.Mode {
	case ModeUser:
		_, err := s.notifyUser(ctx, job.ID, p.TenantID, p.UserID, p.content())
		if errors.Is(err, ErrNotMember) {
			s.logger.Info("dropping notification for non-member",
				zap.String("user_id", p.UserID), zap.String("org_id", p.TenantID))
			return nil
		}
		return err
	case ModeTenant:
		n, err := s.notifyTenant(ctx, job.ID, p.TenantID, p.ExcludeUserID, p.content())
		if err != nil {
			return err
		}
		s.logger.Debug("tenant notification fan-out", zap.String("org_id", p.TenantID), zap.Int("recipients", n))
		return nil
	default:
		return fmt.Errorf("notification: unknown payload mode %q", p.Mode)
	}
}
