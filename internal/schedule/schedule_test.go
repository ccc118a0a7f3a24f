package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcrm/backend/internal/queue"
	"flowcrm/backend/internal/sequence"
	"flowcrm/backend/internal/session"
)

func TestAdd_RejectsBadSpecsAndDuplicates(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add("bad", "every minute", noop))
	require.NoError(t, s.Add("sweep", "@every 1m", noop))
	assert.Error(t, s.Add("sweep", "@daily", noop))
	require.NoError(t, s.Add("cleanup", "0 3 * * *", noop))

	_, ok := s.Next("missing")
	assert.False(t, ok)
}

func TestScheduler_RunsAndSkipsOverlappingRuns(t *testing.T) {
	s := New(nil)
	var started atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Add("slow", "@every 1s", func(ctx context.Context) error {
		started.Add(1)
		<-release
		return nil
	}))
	s.Start()

	require.Eventually(t, func() bool { return started.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load(), "ticks during a running entry are skipped")

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestStop_CancelsRunsOnDeadline(t *testing.T) {
	s := New(nil)
	running := make(chan struct{})
	var once sync.Once
	cancelled := make(chan struct{})
	require.NoError(t, s.Add("stuck", "@every 1s", func(ctx context.Context) error {
		once.Do(func() { close(running) })
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))
	s.Start()
	select {
	case <-running:
	case <-time.After(3 * time.Second):
		t.Fatal("entry never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running entry was not cancelled")
	}
}

type stubSweeper struct {
	res   sequence.SweepResult
	err   error
	calls int
}

func (s *stubSweeper) Sweep(ctx context.Context, now time.Time) (sequence.SweepResult, error) {
	s.calls++
	return s.res, s.err
}

func TestSequenceSweep(t *testing.T) {
	sw := &stubSweeper{res: sequence.SweepResult{Due: 2, Executed: 2}}
	require.NoError(t, SequenceSweep(sw, nil)(context.Background()))
	assert.Equal(t, 1, sw.calls)

	sw.err = errors.New("db down")
	assert.EqualError(t, SequenceSweep(sw, nil)(context.Background()), "db down")
}

func TestTokenCleanup_OneJobPerTick(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := queue.NewRedis(client)
	ctx := context.Background()

	tick := time.Date(2026, 3, 1, 3, 0, 12, 0, time.UTC)
	task := TokenCleanup(q, func() time.Time { return tick })
	require.NoError(t, task(ctx))
	tick = tick.Add(20 * time.Second)
	require.NoError(t, task(ctx))

	counts, err := q.Counts(ctx, queue.TokenCleanup)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[queue.StateWaiting])

	job, err := q.Get(ctx, "token-cleanup-202603010300")
	require.NoError(t, err)
	require.NotNil(t, job)
	var p session.CleanupPayload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), p.RequestedAt)
}

func TestTokenCleanup_DisabledQueue(t *testing.T) {
	assert.ErrorIs(t, TokenCleanup(queue.Null{}, nil)(context.Background()), ErrQueueDisabled)
}
