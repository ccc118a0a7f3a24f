// Package sequence runs drip sequences: per-tenant templates of timed steps that leads are
// enrolled in. A periodic Sweep executes every due step exactly once per claim; rows are
// claimed with a conditional update so concurrent sweepers never advance the same enrollment twice.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flowcrm/backend/internal/mail"
	"flowcrm/backend/internal/notification"
	notifdomain "flowcrm/backend/internal/notification/domain"
	"flowcrm/backend/internal/queue"
	"flowcrm/backend/internal/sequence/domain"
	seqrepo "flowcrm/backend/internal/sequence/repository"
	"flowcrm/backend/internal/telemetry"
)

var (
	ErrSequenceNotFound = errors.New("sequence: not found")
	ErrSequenceInactive = errors.New("sequence: inactive")
	ErrSequenceEmpty    = errors.New("sequence: has no steps")
	ErrInvalidSteps     = errors.New("sequence: invalid steps")
	ErrLeadNotFound     = errors.New("sequence: lead not found")
	ErrNotEnrolled      = errors.New("sequence: lead is not actively enrolled")
)

const (
	defaultBatch       = 100
	defaultParallelism = 8
	defaultRetryDelay  = 5 * time.Minute
)

// idNamespace scopes the deterministic ids of side effects created by steps.
var idNamespace = uuid.MustParse("2f0b3c1e-6d7a-4f52-9a61-0c8e5d4b7a13")

// Notifier delivers in-app notifications.
type Notifier interface {
	NotifyUser(ctx context.Context, tenantID, userID string, c notification.Content) (*notifdomain.Notification, error)
}

// Scheduler manages sequences and enrollments and executes due steps.
type Scheduler struct {
	repo     seqrepo.Repository
	crm      seqrepo.CRM
	queue    queue.Queue
	notifier Notifier
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time

	batch       int
	parallelism int
	retryDelay  time.Duration
}

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithMetrics(m *telemetry.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithBatchSize caps how many due enrollments one Sweep processes.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithRetryDelay sets how long a failed step waits before the next attempt (default 5m).
func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func NewScheduler(repo seqrepo.Repository, crm seqrepo.CRM, q queue.Queue, notifier Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:        repo,
		crm:         crm,
		queue:       q,
		notifier:    notifier,
		logger:      zap.NewNop(),
		now:         time.Now,
		batch:       defaultBatch,
		parallelism: defaultParallelism,
		retryDelay:  defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StepInput describes one step of a new sequence.
type StepInput struct {
	StepOrder  int               `json:"stepOrder"`
	DelayDays  int               `json:"delayDays"`
	ActionType domain.ActionType `json:"actionType"`
	Subject    string            `json:"subject,omitempty"`
	Content    string            `json:"content"`
}

// CreateSequence validates and stores a new active sequence. Steps may arrive in any order but
// their StepOrder values must be exactly 0..n-1.
func (s *Scheduler) CreateSequence(ctx context.Context, tenantID, name string, steps []StepInput) (*domain.Sequence, error) {
	name = strings.TrimSpace(name)
	if tenantID == "" || name == "" {
		return nil, fmt.Errorf("%w: tenant and name are required", ErrInvalidSteps)
	}
	ordered, err := validateSteps(steps)
	if err != nil {
		return nil, err
	}
	seq := &domain.Sequence{
		ID:        uuid.New().String(),
		OrgID:     tenantID,
		Name:      name,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	for _, in := range ordered {
		seq.Steps = append(seq.Steps, domain.Step{
			ID:         uuid.New().String(),
			SequenceID: seq.ID,
			StepOrder:  in.StepOrder,
			DelayDays:  in.DelayDays,
			ActionType: in.ActionType,
			Subject:    strings.TrimSpace(in.Subject),
			Content:    in.Content,
		})
	}
	if err := s.repo.CreateSequence(ctx, seq); err != nil {
		return nil, fmt.Errorf("sequence: create: %w", err)
	}
	return seq, nil
}

func validateSteps(steps []StepInput) ([]StepInput, error) {
	ordered := make([]StepInput, len(steps))
	seen := make([]bool, len(steps))
	for _, st := range steps {
		switch {
		case st.StepOrder < 0 || st.StepOrder >= len(steps) || seen[st.StepOrder]:
			return nil, fmt.Errorf("%w: step orders must be 0..%d without gaps or duplicates", ErrInvalidSteps, len(steps)-1)
		case st.DelayDays < 0:
			return nil, fmt.Errorf("%w: step %d has a negative delay", ErrInvalidSteps, st.StepOrder)
		case !st.ActionType.Valid():
			return nil, fmt.Errorf("%w: step %d has unknown action %q", ErrInvalidSteps, st.StepOrder, st.ActionType)
		case strings.TrimSpace(st.Content) == "":
			return nil, fmt.Errorf("%w: step %d has no content", ErrInvalidSteps, st.StepOrder)
		}
		seen[st.StepOrder] = true
		ordered[st.StepOrder] = st
	}
	return ordered, nil
}

func (s *Scheduler) GetSequence(ctx context.Context, tenantID, id string) (*domain.Sequence, error) {
	seq, err := s.repo.GetSequence(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("sequence: get: %w", err)
	}
	if seq == nil {
		return nil, ErrSequenceNotFound
	}
	return seq, nil
}

func (s *Scheduler) ListSequences(ctx context.Context, tenantID string) ([]*domain.Sequence, error) {
	return s.repo.ListSequences(ctx, tenantID)
}

// SetActive pauses or resumes a sequence. Enrollments of a paused sequence are not swept
// until it is resumed.
func (s *Scheduler) SetActive(ctx context.Context, tenantID, id string, active bool) error {
	ok, err := s.repo.SetActive(ctx, tenantID, id, active)
	if err != nil {
		return fmt.Errorf("sequence: set active: %w", err)
	}
	if !ok {
		return ErrSequenceNotFound
	}
	return nil
}

// Enroll starts (or restarts from step 0) the lead's enrollment in the sequence.
func (s *Scheduler) Enroll(ctx context.Context, tenantID, sequenceID, leadID string) (*domain.Enrollment, error) {
	seq, err := s.GetSequence(ctx, tenantID, sequenceID)
	if err != nil {
		return nil, err
	}
	if !seq.IsActive {
		return nil, ErrSequenceInactive
	}
	if len(seq.Steps) == 0 {
		return nil, ErrSequenceEmpty
	}
	lead, err := s.crm.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return nil, fmt.Errorf("sequence: load lead: %w", err)
	}
	if lead == nil {
		return nil, ErrLeadNotFound
	}
	now := s.now().UTC()
	next := domain.DueAt(now, seq.Steps, 0)
	e, err := s.repo.UpsertEnrollment(ctx, &domain.Enrollment{
		ID:          uuid.New().String(),
		SequenceID:  seq.ID,
		LeadID:      leadID,
		OrgID:       tenantID,
		CurrentStep: 0,
		Status:      domain.StatusActive,
		NextRunAt:   &next,
		EnrolledAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("sequence: enroll: %w", err)
	}
	s.logger.Info("lead enrolled",
		zap.String("org_id", tenantID),
		zap.String("sequence_id", seq.ID),
		zap.String("lead_id", leadID),
		zap.Time("next_run_at", next),
	)
	return e, nil
}

// Unenroll cancels the lead's active enrollment. Cancellation is terminal until the lead is enrolled again.
func (s *Scheduler) Unenroll(ctx context.Context, tenantID, sequenceID, leadID string) error {
	ok, err := s.repo.Unenroll(ctx, tenantID, sequenceID, leadID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("sequence: unenroll: %w", err)
	}
	if !ok {
		return ErrNotEnrolled
	}
	return nil
}

// SweepResult counts what one Sweep did.
type SweepResult struct {
	Due       int
	Executed  int
	Completed int
	Failed    int
	Cancelled int
	Skipped   int
}

type outcome int

const (
	outcomeExecuted outcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeCancelled
	outcomeSkipped
)

// Sweep executes every step due at now, up to the batch size, with bounded parallelism.
// A failure on one enrollment never stops the others.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	due, err := s.repo.ListDue(ctx, now, s.batch)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sequence: list due: %w", err)
	}
	res := SweepResult{Due: len(due)}
	if len(due) == 0 {
		return res, nil
	}

	sequences := &sequenceCache{repo: s.repo, m: map[string]*domain.Sequence{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, e := range due {
		g.Go(func() error {
			o := s.advance(gctx, e, now, sequences)
			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeExecuted:
				res.Executed++
			case outcomeCompleted:
				res.Executed++
				res.Completed++
			case outcomeFailed:
				res.Failed++
			case outcomeCancelled:
				res.Cancelled++
			case outcomeSkipped:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()
	if res.Executed > 0 || res.Failed > 0 {
		s.logger.Info("drip sweep finished",
			zap.Int("due", res.Due),
			zap.Int("executed", res.Executed),
			zap.Int("completed", res.Completed),
			zap.Int("failed", res.Failed),
			zap.Int("cancelled", res.Cancelled),
		)
	}
	return res, nil
}

func (s *Scheduler) advance(ctx context.Context, e *domain.Enrollment, now time.Time, sequences *sequenceCache) outcome {
	log := s.logger.With(zap.String("enrollment_id", e.ID), zap.String("org_id", e.OrgID), zap.Int("step", e.CurrentStep))

	seq, err := sequences.get(ctx, e.OrgID, e.SequenceID)
	if err != nil {
		log.Error("load sequence failed", zap.Error(err))
		return outcomeFailed
	}
	if seq == nil || e.CurrentStep >= len(seq.Steps) {
		// Nothing left to run; close the enrollment out.
		ok, err := s.repo.Claim(ctx, e.ID, e.CurrentStep, now, seqrepo.Transition{Step: e.CurrentStep, Status: domain.StatusCompleted})
		if err != nil {
			log.Error("complete enrollment failed", zap.Error(err))
			return outcomeFailed
		}
		if !ok {
			return outcomeSkipped
		}
		return outcomeCompleted
	}

	step := seq.Steps[e.CurrentStep]
	next := seqrepo.Transition{Step: e.CurrentStep + 1, Status: domain.StatusCompleted}
	if next.Step < len(seq.Steps) {
		at := domain.DueAt(e.EnrolledAt, seq.Steps, next.Step)
		next.Status, next.NextRunAt = domain.StatusActive, &at
	}
	claimed, err := s.repo.Claim(ctx, e.ID, e.CurrentStep, now, next)
	if err != nil {
		log.Error("claim enrollment failed", zap.Error(err))
		return outcomeFailed
	}
	if !claimed {
		log.Debug("enrollment claimed by another sweeper")
		return outcomeSkipped
	}

	lead, err := s.crm.GetLead(ctx, e.OrgID, e.LeadID)
	if err == nil && lead == nil {
		if _, err := s.repo.Cancel(ctx, e.ID, now); err != nil {
			log.Error("cancel enrollment for deleted lead failed", zap.Error(err))
		}
		log.Info("lead no longer exists, enrollment cancelled", zap.String("lead_id", e.LeadID))
		s.metrics.SequenceStep(ctx, string(step.ActionType), "cancelled")
		return outcomeCancelled
	}
	if err == nil {
		err = s.execute(ctx, e, step, lead, now)
	}
	if err != nil {
		retryAt := now.Add(s.retryDelay)
		if _, rerr := s.repo.Revert(ctx, e.ID, e.CurrentStep, retryAt); rerr != nil {
			log.Error("revert enrollment failed", zap.Error(rerr))
		}
		log.Warn("drip step failed, will retry", zap.String("action", string(step.ActionType)), zap.Time("retry_at", retryAt), zap.Error(err))
		s.metrics.SequenceStep(ctx, string(step.ActionType), "failed")
		return outcomeFailed
	}
	s.metrics.SequenceStep(ctx, string(step.ActionType), "executed")
	if next.Status == domain.StatusCompleted {
		return outcomeCompleted
	}
	return outcomeExecuted
}

// effectKey identifies one execution of one step of one enrollment run, so a re-run after
// a crash reuses the same job and task ids.
func effectKey(e *domain.Enrollment, step int) string {
	return fmt.Sprintf("drip:%s:%d:%d", e.ID, e.EnrolledAt.Unix(), step)
}

func (s *Scheduler) execute(ctx context.Context, e *domain.Enrollment, step domain.Step, lead *domain.Lead, now time.Time) error {
	key := effectKey(e, step.StepOrder)
	switch step.ActionType {
	case domain.ActionEmail:
		if lead.Email == "" {
			s.logger.Info("lead has no email, skipping email step", zap.String("lead_id", lead.ID))
			return nil
		}
		subject := Render(step.Subject, lead, false)
		if subject == "" {
			subject = "Following up"
		}
		_, err := s.queue.Enqueue(ctx, queue.OutboundEmail, mail.Message{
			TenantID: e.OrgID,
			To:       lead.Email,
			Subject:  subject,
			HTML:     Render(step.Content, lead, true),
		}, queue.WithJobID(uuid.NewSHA1(idNamespace, []byte(key)).String()))
		return err
	case domain.ActionTask:
		title := Render(step.Subject, lead, false)
		if title == "" {
			title = "Follow up with " + lead.Name
		}
		due := now
		return s.crm.CreateTask(ctx, &domain.Task{
			ID:          uuid.NewSHA1(idNamespace, []byte(key)).String(),
			OrgID:       e.OrgID,
			Title:       title,
			Description: Render(step.Content, lead, false),
			LeadID:      lead.ID,
			AssigneeID:  lead.OwnerID,
			DueAt:       &due,
			CreatedAt:   now,
		})
	case domain.ActionNotification:
		if lead.OwnerID == "" {
			s.logger.Info("lead has no owner, skipping notification step", zap.String("lead_id", lead.ID))
			return nil
		}
		title := Render(step.Subject, lead, false)
		if title == "" {
			title = "Sequence reminder"
		}
		_, err := s.notifier.NotifyUser(ctx, e.OrgID, lead.OwnerID, notification.Content{
			Type:    notifdomain.TypeSequence,
			Title:   title,
			Message: Render(step.Content, lead, false),
			Link:    "/leads/" + lead.ID,
		})
		if errors.Is(err, notification.ErrNotMember) {
			s.logger.Info("lead owner is not in the tenant, skipping notification step",
				zap.String("lead_id", lead.ID), zap.String("owner_id", lead.OwnerID))
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidSteps, step.ActionType)
	}
}

// sequenceCache loads each sequence at most once per sweep.
type sequenceCache struct {
	repo seqrepo.Repository
	mu   sync.Mutex
	m    map[string]*domain.Sequence
}

func (c *sequenceCache) get(ctx context.Context, orgID, id string) (*domain.Sequence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq, ok := c.m[id]; ok {
		return seq, nil
	}
	seq, err := c.repo.GetSequence(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	c.m[id] = seq
	return seq, nil
}
