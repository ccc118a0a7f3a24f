package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcrm/backend/internal/audit"
	auditdomain "flowcrm/backend/internal/audit/domain"
	auditrepo "flowcrm/backend/internal/audit/repository"
	"flowcrm/backend/internal/cache"
	"flowcrm/backend/internal/queue"
)

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*auditdomain.AuditLog
	err     error
}

func (m *memAuditRepo) GetByID(ctx context.Context, id string) (*auditdomain.AuditLog, error) {
	return nil, nil
}

func (m *memAuditRepo) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*auditdomain.AuditLog, error) {
	return nil, nil
}

func (m *memAuditRepo) ListByOrgFiltered(ctx context.Context, orgID string, f auditrepo.Filter, limit, offset int32) ([]*auditdomain.AuditLog, error) {
	return nil, nil
}

func (m *memAuditRepo) Create(ctx context.Context, a *auditdomain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, a)
	return nil
}

func (m *memAuditRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []JobSpec
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, name string, payload any, opts ...queue.EnqueueOption) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, JobSpec{Queue: name, Payload: payload})
	return "id", nil
}

func (q *recordingQueue) Enabled() bool { return true }

func (q *recordingQueue) queues() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, j := range q.jobs {
		out = append(out, j.Queue)
	}
	return out
}

type recordingCache struct {
	cache.Null
	mu       sync.Mutex
	prefixes []string
	err      error
}

func (c *recordingCache) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefixes = append(c.prefixes, prefix)
	return 0, c.err
}

type webhookCall struct {
	tenant string
	event  string
	data   map[string]any
}

type recordingWebhooks struct {
	mu    sync.Mutex
	calls []webhookCall
	err   error
	block chan struct{}
}

func (w *recordingWebhooks) Dispatch(ctx context.Context, tenantID, event string, data any) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, webhookCall{tenant: tenantID, event: event, data: data.(map[string]any)})
	return w.err
}

func dealWon() Event {
	return Event{
		Kind:        DealWon,
		ActorUserID: "u1",
		TenantID:    "t1",
		EntityID:    "deal-1",
		EntityLabel: "Acme renewal",
		Metadata: map[string]any{
			MetaBroadcastToTenant: true,
			MetaDealValue:         5000,
			MetaAssigneeEmail:     "secret@example.com",
		},
	}
}

func TestEmit_FansOutToEveryTarget(t *testing.T) {
	repo := &memAuditRepo{}
	q := &recordingQueue{}
	c := &recordingCache{}
	wh := &recordingWebhooks{}
	em := NewEmitter(audit.NewLogger(repo, q, nil), q, c, wh)

	require.NoError(t, em.Emit(context.Background(), dealWon()))
	assert.Equal(t, 1, repo.count(), "audit entry is written before Emit returns")
	require.NoError(t, em.Close(context.Background()))

	assert.Equal(t, []string{queue.DomainEventLog, queue.AnalyticsRollup, queue.UserNotification}, q.queues())
	assert.Equal(t, []string{"dashboard:t1:"}, c.prefixes)
	require.Len(t, wh.calls, 1)
	call := wh.calls[0]
	assert.Equal(t, "t1", call.tenant)
	assert.Equal(t, "deal.won", call.event)
	assert.Equal(t, "Acme renewal", call.data["entityLabel"])
	meta := call.data["metadata"].(map[string]any)
	assert.Equal(t, 5000, meta[MetaDealValue])
	assert.NotContains(t, meta, MetaAssigneeEmail)
	assert.NotContains(t, meta, MetaBroadcastToTenant)

	entry := repo.entries[0]
	assert.Equal(t, "won", entry.Action)
	assert.Equal(t, "deal", entry.EntityType)
	assert.Equal(t, "deal-1", entry.EntityID)
	assert.Equal(t, "u1", entry.UserID)
	assert.Contains(t, string(entry.Changes), `"label":"Acme renewal"`)
}

func TestEmit_ScenarioD_BackgroundDisabled(t *testing.T) {
	repo := &memAuditRepo{}
	wh := &recordingWebhooks{}
	em := NewEmitter(audit.NewLogger(repo, queue.Null{}, nil), queue.Null{}, cache.Null{}, wh)

	require.NoError(t, em.Emit(context.Background(), dealWon()))
	assert.Equal(t, 1, repo.count())
	require.NoError(t, em.Close(context.Background()))
}

func TestEmit_ScenarioD_NoJobRowsInStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	disabled := queue.Open(ctx, false, client, nil)
	repo := &memAuditRepo{}
	em := NewEmitter(audit.NewLogger(repo, disabled, nil), disabled, nil, nil)
	require.NoError(t, em.Emit(ctx, dealWon()))
	require.NoError(t, em.Close(ctx))
	assert.Equal(t, 1, repo.count())
	assert.Empty(t, mr.Keys(), "no job may reach the store when background processing is off")

	enabled := queue.NewRedis(client)
	em = NewEmitter(audit.NewLogger(repo, enabled, nil), enabled, nil, nil)
	require.NoError(t, em.Emit(ctx, dealWon()))
	require.NoError(t, em.Close(ctx))
	counts, err := enabled.Counts(ctx, queue.UserNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[queue.StateWaiting])
}

func TestEmit_StepsFailIndependently(t *testing.T) {
	repo := &memAuditRepo{err: errors.New("db down")}
	q := &recordingQueue{err: errors.New("redis down")}
	c := &recordingCache{err: errors.New("cache down")}
	wh := &recordingWebhooks{err: errors.New("endpoint down")}
	em := NewEmitter(audit.NewLogger(repo, q, nil), q, c, wh)

	require.NoError(t, em.Emit(context.Background(), dealWon()))
	require.NoError(t, em.Close(context.Background()))
	assert.Len(t, c.prefixes, 1, "cache step runs although audit and queue failed")
	assert.Len(t, wh.calls, 1, "webhook step runs although the other steps failed")
}

func TestEmit_RejectsInvalidEventsBeforeSideEffects(t *testing.T) {
	repo := &memAuditRepo{}
	q := &recordingQueue{}
	wh := &recordingWebhooks{}
	em := NewEmitter(audit.NewLogger(repo, q, nil), q, nil, wh)

	err := em.Emit(context.Background(), Event{Kind: "DEAL_EXPLODED", TenantID: "t1"})
	assert.ErrorIs(t, err, ErrUnknownKind)
	err = em.Emit(context.Background(), Event{Kind: LeadCreated})
	assert.ErrorIs(t, err, ErrMissingTenant)

	require.NoError(t, em.Close(context.Background()))
	assert.Zero(t, repo.count())
	assert.Empty(t, q.queues())
	assert.Empty(t, wh.calls)
}

func TestEmit_DoesNotWaitForSlowWebhook(t *testing.T) {
	wh := &recordingWebhooks{block: make(chan struct{})}
	em := NewEmitter(nil, nil, nil, wh, WithTimeout(time.Second))

	done := make(chan error, 1)
	go func() { done <- em.Emit(context.Background(), dealWon()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on webhook delivery")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, em.Close(ctx), context.DeadlineExceeded, "Close waits for the in-flight webhook")
	close(wh.block)
	require.NoError(t, em.Close(context.Background()))
}

func TestEmit_RequestCancellationDoesNotAbortFanOut(t *testing.T) {
	q := &recordingQueue{}
	em := NewEmitter(nil, q, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, em.Emit(ctx, dealWon()))
	cancel()
	require.NoError(t, em.Close(context.Background()))
	assert.Len(t, q.queues(), 3)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Emit(context.Background(), Event{Kind: TaskCompleted, TenantID: "t1"}))
	assert.ErrorIs(t, r.Emit(context.Background(), Event{Kind: "NOPE", TenantID: "t1"}), ErrUnknownKind)
	assert.Equal(t, []Kind{TaskCompleted}, r.Kinds())
	assert.Len(t, r.Events(), 1)

	var _ Sink = &r
	var _ Sink = (*Emitter)(nil)
}
