package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowcrm/backend/internal/telemetry"
)

// Handler processes one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

// Store is the claim/ack side of the durable queue. *Redis implements it.
type Store interface {
	Claim(ctx context.Context, name string) (*Job, error)
	Complete(ctx context.Context, job *Job) error
	Fail(ctx context.Context, job *Job, cause error) (State, error)
	Reap(ctx context.Context, name string) (int, error)
}

// Runner runs a fixed number of worker goroutines per registered queue plus a lease reaper.
type Runner struct {
	store        Store
	logger       *zap.Logger
	metrics      *telemetry.Metrics
	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration
	ackTimeout   time.Duration
	reapInterval time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency sets workers per queue.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) { r.concurrency = n }
}

// WithPollInterval sets how long an idle worker sleeps between claims.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.pollInterval = d }
}

// WithJobTimeout bounds a single handler invocation.
func WithJobTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.jobTimeout = d }
}

// WithReapInterval sets how often expired leases are returned to waiting.
func WithReapInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.reapInterval = d }
}

// WithMetrics records per-job outcomes.
func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner returns a Runner claiming from store.
func NewRunner(store Store, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		store:        store,
		logger:       logger,
		concurrency:  5,
		pollInterval: time.Second,
		jobTimeout:   2 * time.Minute,
		ackTimeout:   5 * time.Second,
		reapInterval: 30 * time.Second,
		handlers:     make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	return r
}

// Handle registers h for the named queue. Must be called before Start.
func (r *Runner) Handle(name string, h Handler) {
	if !Known(name) {
		panic(fmt.Sprintf("queue: Handle on unknown queue %q", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Start launches the workers and returns immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.baseCtx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for name, h := range r.handlers {
		r.logger.Info("queue workers starting", zap.String("queue", name), zap.Int("concurrency", r.concurrency))
		for i := 0; i < r.concurrency; i++ {
			r.wg.Add(1)
			go r.loop(name, h)
		}
		r.wg.Add(1)
		go r.reapLoop(name)
	}
	return nil
}

// Stop signals workers to stop after their current job and waits for them.
// When ctx expires first, in-flight handlers are cancelled.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	if err := telemetry.Wait(ctx, &r.wg); err != nil {
		r.logger.Warn("queue workers did not drain in time, cancelling in-flight jobs")
		r.cancel()
		r.wg.Wait()
		return err
	}
	r.cancel()
	r.logger.Info("queue workers stopped")
	return nil
}

func (r *Runner) loop(name string, h Handler) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		job, err := r.store.Claim(r.baseCtx, name)
		if err != nil {
			r.logger.Warn("queue claim failed", zap.String("queue", name), zap.Error(err))
			r.sleep()
			continue
		}
		if job == nil {
			r.sleep()
			continue
		}
		r.process(h, job)
	}
}

func (r *Runner) process(h Handler, job *Job) {
	ctx, cancel := context.WithTimeout(r.baseCtx, r.jobTimeout)
	defer cancel()

	err := safeCall(ctx, h, job)

	// Acks use a detached context so a timed-out or cancelled attempt is still recorded.
	ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), r.ackTimeout)
	defer ackCancel()
	if err == nil {
		if cerr := r.store.Complete(ackCtx, job); cerr != nil {
			r.logger.Error("queue complete failed", zap.String("queue", job.Queue), zap.String("job_id", job.ID), zap.Error(cerr))
		}
		r.metrics.JobProcessed(ackCtx, job.Queue, string(StateCompleted))
		return
	}

	state, ferr := r.store.Fail(ackCtx, job, err)
	if ferr != nil {
		r.logger.Error("queue fail bookkeeping failed", zap.String("queue", job.Queue), zap.String("job_id", job.ID), zap.Error(ferr))
	}
	fields := []zap.Field{
		zap.String("queue", job.Queue),
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Error(err),
	}
	if state == StateFailed {
		r.logger.Error("job failed permanently", fields...)
		r.metrics.JobProcessed(ackCtx, job.Queue, string(StateFailed))
		return
	}
	r.logger.Warn("job failed, retry scheduled", append(fields, zap.Time("next_attempt_at", job.NextAttemptAt))...)
	r.metrics.JobProcessed(ackCtx, job.Queue, "retried")
}

func (r *Runner) reapLoop(name string) {
	defer r.wg.Done()
	t := time.NewTicker(r.reapInterval)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
			n, err := r.store.Reap(r.baseCtx, name)
			if err != nil {
				r.logger.Warn("queue reap failed", zap.String("queue", name), zap.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Info("requeued jobs with expired lease", zap.String("queue", name), zap.Int("count", n))
			}
		}
	}
}

func (r *Runner) sleep() {
	select {
	case <-r.stopCh:
	case <-time.After(r.pollInterval):
	}
}

func safeCall(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("queue: handler panic: %v", p)
		}
	}()
	return h(ctx, job)
}
