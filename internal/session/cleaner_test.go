package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"flowcrm/backend/internal/queue"
	"flowcrm/backend/internal/session/domain"
)

type mockSessionRepo struct {
	before  []time.Time
	deleted int64
	err     error
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) Create(ctx context.Context, s *domain.Session) error { return nil }
func (m *mockSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.before = append(m.before, before)
	return m.deleted, m.err
}

func TestCleaner_RunUsesRetentionCutoff(t *testing.T) {
	repo := &mockSessionRepo{deleted: 7}
	c := NewCleaner(repo, 24*time.Hour, nil)
	now := time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	n, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 7 {
		t.Errorf("deleted = %d, want 7", n)
	}
	if want := now.Add(-24 * time.Hour); !repo.before[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", repo.before[0], want)
	}
}

func TestCleaner_ZeroRetentionDeletesEverythingPastExpiry(t *testing.T) {
	repo := &mockSessionRepo{}
	c := NewCleaner(repo, 0, nil)
	now := time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !repo.before[0].Equal(now) {
		t.Errorf("cutoff = %v, want %v", repo.before[0], now)
	}
}

func TestCleaner_HandleJob(t *testing.T) {
	repo := &mockSessionRepo{}
	c := NewCleaner(repo, -time.Hour, nil)
	if err := c.HandleJob(context.Background(), &queue.Job{ID: "j1", Queue: queue.TokenCleanup}); err != nil {
		t.Fatalf("HandleJob: %v", err)
	}
	if err := c.HandleJob(context.Background(), &queue.Job{ID: "j2", Queue: queue.TokenCleanup}); err != nil {
		t.Fatalf("second HandleJob: %v", err)
	}
	if len(repo.before) != 2 {
		t.Errorf("DeleteExpired calls = %d, want 2", len(repo.before))
	}
	if c.retention != 0 {
		t.Errorf("negative retention should clamp to 0, got %v", c.retention)
	}

	repo.err = errors.New("db down")
	if err := c.HandleJob(context.Background(), &queue.Job{ID: "j3"}); err == nil {
		t.Error("expected error to be returned for retry")
	}
}
