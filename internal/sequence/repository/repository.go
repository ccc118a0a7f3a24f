package repository

import (
	"context"
	"time"

	"flowcrm/backend/internal/sequence/domain"
)

// Repository persists sequences, their steps and enrollments.
type Repository interface {
	// CreateSequence inserts the sequence and all of its steps in one statement.
	CreateSequence(ctx context.Context, s *domain.Sequence) error
	// GetSequence returns the tenant's sequence with steps ordered by StepOrder, or nil if not found.
	GetSequence(ctx context.Context, orgID, id string) (*domain.Sequence, error)
	ListSequences(ctx context.Context, orgID string) ([]*domain.Sequence, error)
	SetActive(ctx context.Context, orgID, id string, active bool) (bool, error)

	// UpsertEnrollment inserts or restarts the (sequence, lead) enrollment and returns the stored row.
	UpsertEnrollment(ctx context.Context, e *domain.Enrollment) (*domain.Enrollment, error)
	GetEnrollment(ctx context.Context, orgID, sequenceID, leadID string) (*domain.Enrollment, error)
	// Unenroll cancels an active enrollment. Returns false if none was active.
	Unenroll(ctx context.Context, orgID, sequenceID, leadID string, now time.Time) (bool, error)
	// ListDue returns active enrollments of active sequences with next_run_at <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Enrollment, error)
	// Claim moves an enrollment from step `from` to its next state, only if it is still active,
	// still at `from` and due. Returns false when another sweeper got there first.
	Claim(ctx context.Context, id string, from int, now time.Time, next Transition) (bool, error)
	// Revert undoes a Claim whose action failed, scheduling step `from` again at retryAt.
	Revert(ctx context.Context, id string, from int, retryAt time.Time) (bool, error)
	// Cancel ends an enrollment that cannot continue. Returns false if it was already terminal.
	Cancel(ctx context.Context, id string, now time.Time) (bool, error)
}

// Transition is the state written by Claim.
type Transition struct {
	Step      int
	Status    domain.Status
	NextRunAt *time.Time
}

// CRM is the slice of the CRM data layer the scheduler reads and writes.
type CRM interface {
	// GetLead returns the tenant's lead, or nil if it no longer exists.
	GetLead(ctx context.Context, orgID, id string) (*domain.Lead, error)
	// CreateTask inserts a task. Inserting an existing ID is a no-op.
	CreateTask(ctx context.Context, t *domain.Task) error
}
