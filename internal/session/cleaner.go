// Package session holds refresh sessions and removes them once they can no longer authenticate.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flowcrm/backend/internal/queue"
	sessionrepo "flowcrm/backend/internal/session/repository"
)

// CleanupPayload is the token-cleanup job payload. Zero fields mean "use the cleaner's defaults".
type CleanupPayload struct {
	RequestedAt time.Time `json:"requestedAt"`
}

// Cleaner deletes expired and revoked sessions. Running it twice is harmless.
type Cleaner struct {
	repo      sessionrepo.Repository
	logger    *zap.Logger
	retention time.Duration
	now       func() time.Time
}

// NewCleaner keeps dead sessions for retention before deleting them (0 deletes immediately).
func NewCleaner(repo sessionrepo.Repository, retention time.Duration, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{repo: repo, logger: logger, retention: max(retention, 0), now: time.Now}
}

// Run deletes sessions that died before now minus retention and returns the count.
func (c *Cleaner) Run(ctx context.Context) (int64, error) {
	cutoff := c.now().UTC().Add(-c.retention)
	n, err := c.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: delete expired: %w", err)
	}
	c.logger.Info("expired sessions removed", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// HandleJob processes a token-cleanup job.
func (c *Cleaner) HandleJob(ctx context.Context, job *queue.Job) error {
	_, err := c.Run(ctx)
	return err
}
