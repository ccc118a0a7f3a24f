// Package schedule runs the recurring background work: the drip sequence sweep and the
// periodic token cleanup request.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"flowcrm/backend/internal/queue"
	"flowcrm/backend/internal/sequence"
	"flowcrm/backend/internal/session"
)

// Task is one run of a recurring entry.
type Task func(ctx context.Context) error

// parser accepts standard 5-field expressions and descriptors such as "@every 1m" or "@daily".
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a schedule expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return parser.Parse(expr)
}

// Scheduler runs named entries on cron schedules. A run that is still going when its next
// tick fires causes that tick to be skipped.
type Scheduler struct {
	cron    *cronlib.Cron
	logger  *zap.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cronlib.EntryID
}

type Option func(*Scheduler)

// WithRunTimeout bounds every run (default 10m).
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		logger:  logger,
		timeout: 10 * time.Minute,
		entries: make(map[string]cronlib.EntryID),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cronlib.New(
		cronlib.WithParser(parser),
		cronlib.WithLogger(cl),
		cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
	)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers task under name. Names are unique.
func (s *Scheduler) Add(name, spec string, task Task) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("schedule: %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("schedule: %s registered twice", name)
	}
	s.entries[name] = s.cron.Schedule(sched, cronlib.FuncJob(func() { s.run(name, task) }))
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	start := time.Now()
	log := s.logger.With(zap.String("entry", name))
	if err := task(ctx); err != nil {
		log.Error("scheduled run failed", zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	log.Debug("scheduled run finished", zap.Duration("took", time.Since(start)))
}

// Next reports when name runs next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop stops new runs and waits for running ones. When ctx ends first the running
// tasks are cancelled and ctx's error is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// Sweeper advances due sequence enrollments. *sequence.Scheduler implements it.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (sequence.SweepResult, error)
}

// SequenceSweep processes one batch of due enrollments per run.
func SequenceSweep(sw Sweeper, logger *zap.Logger) Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		res, err := sw.Sweep(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if res.Due > 0 {
			logger.Info("sequence sweep",
				zap.Int("due", res.Due),
				zap.Int("executed", res.Executed),
				zap.Int("completed", res.Completed),
				zap.Int("failed", res.Failed),
				zap.Int("cancelled", res.Cancelled),
				zap.Int("skipped", res.Skipped),
			)
		}
		return nil
	}
}

// ErrQueueDisabled is returned by TokenCleanup runs while background processing is off.
var ErrQueueDisabled = errors.New("schedule: background processing disabled")

// TokenCleanup enqueues a token-cleanup job. The job id is derived from the minute so two
// workers firing the same tick produce one job.
func TokenCleanup(q queue.Queue, now func() time.Time) Task {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		if !q.Enabled() {
			return ErrQueueDisabled
		}
		at := now().UTC().Truncate(time.Minute)
		_, err := q.Enqueue(ctx, queue.TokenCleanup, session.CleanupPayload{RequestedAt: at},
			queue.WithJobID("token-cleanup-"+at.Format("200601021504")))
		return err
	}
}

// cronLogger routes robfig/cron's logr-style output to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
