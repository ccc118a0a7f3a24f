package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPrefix      = "flowcrm"
	completedRetention = 1000
	completedTTL       = 24 * time.Hour
)

// claimScript moves the oldest due job from waiting to active under a lease.
// KEYS: waiting, active. ARGV: now ms, lease deadline ms, job key prefix.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', ARGV[3] .. id, 'state', 'active', 'updated_at', ARGV[1])
return id
`)

// enqueueScript creates the job hash and its waiting entry unless the id already exists.
// KEYS: job hash, waiting. ARGV: id, queue, payload, max attempts, run at ms, now ms.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'queue', ARGV[2], 'payload', ARGV[3], 'attempts', 0,
  'max_attempts', ARGV[4], 'next_attempt_at', ARGV[5], 'state', 'waiting',
  'last_error', '', 'created_at', ARGV[6], 'updated_at', ARGV[6])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
return 1
`)

// reapScript returns active jobs whose lease expired to waiting.
// KEYS: active, waiting. ARGV: now ms, job key prefix.
var reapScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[1], id)
  redis.call('HSET', ARGV[2] .. id, 'state', 'waiting', 'updated_at', ARGV[1])
end
return #ids
`)

// Redis is the durable queue: one hash per job plus a sorted set per queue and state.
// waiting is scored by next attempt time, active by lease deadline, failed and completed by finish time.
type Redis struct {
	client      redis.UniversalClient
	prefix      string
	maxAttempts int
	lease       time.Duration
	backoff     Backoff
	now         func() time.Time
}

// RedisOption configures a Redis queue.
type RedisOption func(*Redis)

// WithPrefix namespaces every key (default "flowcrm").
func WithPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// WithDefaultMaxAttempts sets the retry ceiling for jobs enqueued without WithMaxAttempts.
func WithDefaultMaxAttempts(n int) RedisOption {
	return func(r *Redis) { r.maxAttempts = n }
}

// WithLease sets how long a claimed job may run before the reaper returns it to waiting.
func WithLease(d time.Duration) RedisOption {
	return func(r *Redis) { r.lease = d }
}

// WithBackoff replaces DefaultBackoff.
func WithBackoff(b Backoff) RedisOption {
	return func(r *Redis) { r.backoff = b }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) RedisOption {
	return func(r *Redis) { r.now = now }
}

// NewRedis returns a durable queue on client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:      client,
		prefix:      defaultPrefix,
		maxAttempts: 5,
		lease:       5 * time.Minute,
		backoff:     DefaultBackoff,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open picks the queue implementation at startup: Null when disabled or when Redis does
// not answer a ping, the durable queue otherwise. It never fails.
func Open(ctx context.Context, enabled bool, client redis.UniversalClient, logger *zap.Logger, opts ...RedisOption) Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !enabled {
		logger.Info("background processing disabled, jobs will be dropped")
		return Null{}
	}
	if client == nil {
		logger.Warn("no redis client configured, jobs will be dropped")
		return Null{}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, jobs will be dropped", zap.Error(err))
		return Null{}
	}
	return NewRedis(client, opts...)
}

func (r *Redis) Enabled() bool { return true }

func (r *Redis) jobKeyPrefix() string    { return r.prefix + ":job:" }
func (r *Redis) jobKey(id string) string { return r.jobKeyPrefix() + id }
func (r *Redis) stateKey(name string, s State) string {
	return r.prefix + ":queue:" + name + ":" + string(s)
}

// Enqueue stores the job and makes it claimable at now+delay. With WithJobID, an id that
// already exists in any state is left untouched and its id returned.
func (r *Redis) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (string, error) {
	if !Known(name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownQueue, name)
	}
	o := enqueueOptions{maxAttempts: r.maxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}
	body, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	id := o.jobID
	if id == "" {
		id = uuid.New().String()
	}
	now := r.now().UTC()
	runAt := now.Add(o.delay)

	err = enqueueScript.Run(ctx, r.client,
		[]string{r.jobKey(id), r.stateKey(name, StateWaiting)},
		id, name, string(body), o.maxAttempts, runAt.UnixMilli(), now.UnixMilli(),
	).Err()
	if err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", name, err)
	}
	return id, nil
}

// Claim leases the next due job on name. Returns (nil, nil) when nothing is due.
func (r *Redis) Claim(ctx context.Context, name string) (*Job, error) {
	now := r.now().UTC()
	res, err := claimScript.Run(ctx, r.client,
		[]string{r.stateKey(name, StateWaiting), r.stateKey(name, StateActive)},
		now.UnixMilli(), now.Add(r.lease).UnixMilli(), r.jobKeyPrefix(),
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: claim %s: %w", name, err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("queue: claim %s: unexpected reply %T", name, res)
	}
	job, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Hash vanished (e.g. manual cleanup); drop the dangling lease.
		r.client.ZRem(ctx, r.stateKey(name, StateActive), id)
		return nil, nil
	}
	return job, nil
}

// Complete marks the job completed. Completed jobs are kept for a day, bounded per queue.
func (r *Redis) Complete(ctx context.Context, job *Job) error {
	now := r.now().UTC()
	completedKey := r.stateKey(job.Queue, StateCompleted)
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.stateKey(job.Queue, StateActive), job.ID)
	pipe.ZAdd(ctx, completedKey, &redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
	pipe.HSet(ctx, r.jobKey(job.ID), "state", string(StateCompleted), "updated_at", now.UnixMilli())
	pipe.Expire(ctx, r.jobKey(job.ID), completedTTL)
	pipe.ZRemRangeByRank(ctx, completedKey, 0, -completedRetention-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: complete %s: %w", job.ID, err)
	}
	job.State = StateCompleted
	return nil
}

// Fail records cause and either reschedules the job with backoff or, once attempts reach
// MaxAttempts, parks it in failed. Returns the resulting state.
func (r *Redis) Fail(ctx context.Context, job *Job, cause error) (State, error) {
	now := r.now().UTC()
	job.Attempts++
	job.LastError = ""
	if cause != nil {
		job.LastError = cause.Error()
	}
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.stateKey(job.Queue, StateActive), job.ID)
	if job.Attempts >= job.MaxAttempts {
		job.State = StateFailed
		pipe.ZAdd(ctx, r.stateKey(job.Queue, StateFailed), &redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
		pipe.HSet(ctx, r.jobKey(job.ID),
			"state", string(StateFailed),
			"attempts", job.Attempts,
			"last_error", job.LastError,
			"updated_at", now.UnixMilli(),
		)
	} else {
		job.State = StateWaiting
		job.NextAttemptAt = now.Add(r.backoff.Delay(job.Attempts))
		pipe.ZAdd(ctx, r.stateKey(job.Queue, StateWaiting), &redis.Z{Score: float64(job.NextAttemptAt.UnixMilli()), Member: job.ID})
		pipe.HSet(ctx, r.jobKey(job.ID),
			"state", string(StateWaiting),
			"attempts", job.Attempts,
			"next_attempt_at", job.NextAttemptAt.UnixMilli(),
			"last_error", job.LastError,
			"updated_at", now.UnixMilli(),
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return job.State, fmt.Errorf("queue: fail %s: %w", job.ID, err)
	}
	return job.State, nil
}

// Reap returns jobs whose lease expired on name to waiting and reports how many moved.
func (r *Redis) Reap(ctx context.Context, name string) (int, error) {
	n, err := reapScript.Run(ctx, r.client,
		[]string{r.stateKey(name, StateActive), r.stateKey(name, StateWaiting)},
		r.now().UTC().UnixMilli(), r.jobKeyPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: reap %s: %w", name, err)
	}
	return n, nil
}

// Get returns the job with id, or nil if it does not exist.
func (r *Redis) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := r.client.HGetAll(ctx, r.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return jobFromHash(fields), nil
}

// ListFailed returns up to limit failed jobs on name, most recent first.
func (r *Redis) ListFailed(ctx context.Context, name string, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := r.client.ZRevRange(ctx, r.stateKey(name, StateFailed), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list failed %s: %w", name, err)
	}
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if j != nil {
			out = append(out, j)
		}
	}
	return out, nil
}

// Retry moves a failed job back to waiting with a fresh attempt budget.
func (r *Redis) Retry(ctx context.Context, id string) error {
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil || job.State != StateFailed {
		return ErrJobNotFound
	}
	now := r.now().UTC()
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.stateKey(job.Queue, StateFailed), id)
	pipe.ZAdd(ctx, r.stateKey(job.Queue, StateWaiting), &redis.Z{Score: float64(now.UnixMilli()), Member: id})
	pipe.HSet(ctx, r.jobKey(id),
		"state", string(StateWaiting),
		"attempts", 0,
		"next_attempt_at", now.UnixMilli(),
		"updated_at", now.UnixMilli(),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: retry %s: %w", id, err)
	}
	return nil
}

// Counts returns the number of jobs per state on name.
func (r *Redis) Counts(ctx context.Context, name string) (map[State]int64, error) {
	states := []State{StateWaiting, StateActive, StateCompleted, StateFailed}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(states))
	for i, s := range states {
		cmds[i] = pipe.ZCard(ctx, r.stateKey(name, s))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue: counts %s: %w", name, err)
	}
	out := make(map[State]int64, len(states))
	for i, s := range states {
		out[s] = cmds[i].Val()
	}
	return out, nil
}

func jobFromHash(f map[string]string) *Job {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(f[k])
		return n
	}
	ms := func(k string) time.Time {
		n, err := strconv.ParseInt(f[k], 10, 64)
		if err != nil || n == 0 {
			return time.Time{}
		}
		return time.UnixMilli(n).UTC()
	}
	return &Job{
		ID:            f["id"],
		Queue:         f["queue"],
		Payload:       []byte(f["payload"]),
		Attempts:      atoi("attempts"),
		MaxAttempts:   atoi("max_attempts"),
		NextAttemptAt: ms("next_attempt_at"),
		State:         State(f["state"]),
		LastError:     f["last_error"],
		CreatedAt:     ms("created_at"),
		UpdatedAt:     ms("updated_at"),
	}
}
