// Package notification persists in-app notifications and pushes them to the recipient's
// realtime channel. Persistence is the record of truth; the push is best-effort.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	membershipdomain "flowcrm/backend/internal/membership/domain"
	"flowcrm/backend/internal/notification/domain"
	notifrepo "flowcrm/backend/internal/notification/repository"
	"flowcrm/backend/internal/realtime"
)

var (
	// ErrNotFound is returned when a notification does not exist or belongs to another user.
	ErrNotFound = errors.New("notification: not found")
	// ErrNotMember is returned when the recipient does not belong to the tenant the notification is for.
	ErrNotMember = errors.New("notification: recipient is not a member of the tenant")
)

const (
	// BatchSize caps rows per insert during tenant fan-out.
	BatchSize      = 100
	publishWorkers = 8
)

// idNamespace derives stable notification IDs from a job key so a replayed job writes the same rows.
var idNamespace = uuid.MustParse("5d1f0c7e-8f43-4e55-9a57-1b0f4c2a9e10")

// Directory resolves tenant membership. The membership repository implements it.
type Directory interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
	ListMembershipsByOrg(ctx context.Context, orgID string) ([]*membershipdomain.Membership, error)
}

// Content is what a notification says.
type Content struct {
	Type    string
	Title   string
	Message string
	Link    string
}

type Service struct {
	repo      notifrepo.Repository
	directory Directory
	publisher realtime.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(repo notifrepo.Repository, directory Directory, publisher realtime.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = realtime.Null{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, directory: directory, publisher: publisher, logger: logger, now: time.Now}
}

func (s *Service) newNotification(key, userID, orgID string, c Content) *domain.Notification {
	id := uuid.New()
	if key != "" {
		id = uuid.NewSHA1(idNamespace, []byte(key+"/"+userID))
	}
	return &domain.Notification{
		ID:        id.String(),
		UserID:    userID,
		OrgID:     orgID,
		Type:      c.Type,
		Title:     c.Title,
		Message:   c.Message,
		Link:      c.Link,
		CreatedAt: s.now().UTC(),
	}
}

// NotifyUser persists one notification for userID under tenantID and pushes it.
// The recipient must be a member of tenantID.
func (s *Service) NotifyUser(ctx context.Context, tenantID, userID string, c Content) (*domain.Notification, error) {
	return s.notifyUser(ctx, "", tenantID, userID, c)
}

func (s *Service) notifyUser(ctx context.Context, key, tenantID, userID string, c Content) (*domain.Notification, error) {
	if tenantID == "" || userID == "" {
		return nil, ErrNotMember
	}
	m, err := s.directory.GetMembershipByUserAndOrg(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("notification: membership of %s in %s: %w", userID, tenantID, err)
	}
	if m == nil {
		return nil, ErrNotMember
	}
	n := s.newNotification(key, userID, tenantID, c)
	if err := s.repo.CreateBatch(ctx, []*domain.Notification{n}); err != nil {
		return nil, fmt.Errorf("notification: persist: %w", err)
	}
	s.push(ctx, n)
	return n, nil
}

// NotifyTenant sends one notification to every member of tenantID except excludeUserID
// and returns how many were created. Rows are written in batches of BatchSize; pushes run
// with bounded parallelism after each batch is stored.
func (s *Service) NotifyTenant(ctx context.Context, tenantID, excludeUserID string, c Content) (int, error) {
	return s.notifyTenant(ctx, "", tenantID, excludeUserID, c)
}

func (s *Service) notifyTenant(ctx context.Context, key, tenantID, excludeUserID string, c Content) (int, error) {
	members, err := s.directory.ListMembershipsByOrg(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("notification: list members of %s: %w", tenantID, err)
	}
	seen := make(map[string]bool, len(members))
	recipients := make([]*domain.Notification, 0, len(members))
	for _, m := range members {
		if m.UserID == excludeUserID || seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		recipients = append(recipients, s.newNotification(key, m.UserID, tenantID, c))
	}

	created := 0
	for start := 0; start < len(recipients); start += BatchSize {
		end := min(start+BatchSize, len(recipients))
		chunk := recipients[start:end]
		if err := s.repo.CreateBatch(ctx, chunk); err != nil {
			return created, fmt.Errorf("notification: persist batch for %s: %w", tenantID, err)
		}
		created += len(chunk)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(publishWorkers)
		for _, n := range chunk {
			g.Go(func() error {
				s.push(gctx, n)
				return nil
			})
		}
		_ = g.Wait()
	}
	return created, nil
}

func (s *Service) push(ctx context.Context, n *domain.Notification) {
	err := s.publisher.Publish(ctx, realtime.UserChannel(n.UserID), realtime.Message{Event: realtime.EventNotification, Data: n})
	if err != nil {
		s.logger.Warn("notification push failed", zap.String("user_id", n.UserID), zap.String("notification_id", n.ID), zap.Error(err))
	}
}

// MarkRead marks one of the caller's notifications as read. Reading an already-read row succeeds.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	ok, err := s.repo.MarkRead(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of userID and pushes a single all-read signal.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("notification: mark all read: %w", err)
	}
	msg := realtime.Message{Event: realtime.EventAllRead, Data: map[string]int64{"updated": n}}
	if err := s.publisher.Publish(ctx, realtime.UserChannel(userID), msg); err != nil {
		s.logger.Warn("all-read push failed", zap.String("user_id", userID), zap.Error(err))
	}
	return n, nil
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int32) ([]*domain.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, userID, unreadOnly, limit, max(offset, 0))
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.UnreadCount(ctx, userID)
}
