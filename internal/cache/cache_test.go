package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stats struct {
	Leads int     `json:"leads"`
	Won   float64 `json:"won"`
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "dashboard:t1:admin:stats", DashboardKey("t1", "admin", "stats"))
	assert.Equal(t, "dashboard:t1:", TenantPrefix("t1"))
}

func TestRedisCache_SetGetTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := DashboardKey("t1", "admin", "stats")

	var got stats
	ok, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, stats{Leads: 3, Won: 1200.5}, time.Minute))
	ok, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stats{Leads: 3, Won: 1200.5}, got)

	mr.FastForward(2 * time.Minute)
	ok, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire")
}

func TestRedisCache_DeleteByPrefixIsTenantScoped(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	for i := 0; i < 450; i++ {
		require.NoError(t, c.Set(ctx, DashboardKey("t1", "member", fmt.Sprintf("widget-%d", i)), i, time.Hour))
	}
	require.NoError(t, c.Set(ctx, DashboardKey("t10", "admin", "stats"), 1, time.Hour))
	require.NoError(t, c.Set(ctx, DashboardKey("t2", "admin", "stats"), 1, time.Hour))

	n, err := c.DeleteByPrefix(ctx, TenantPrefix("t1"))
	require.NoError(t, err)
	assert.Equal(t, int64(450), n)
	assert.True(t, mr.Exists(DashboardKey("t10", "admin", "stats")), "prefix must include the trailing separator")
	assert.True(t, mr.Exists(DashboardKey("t2", "admin", "stats")))
}

func TestGetOrCompute(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	compute := func(ctx context.Context) (stats, error) {
		calls++
		return stats{Leads: 7}, nil
	}
	key := DashboardKey("t1", "owner", "stats")

	v, err := GetOrCompute(ctx, c, zap.NewNop(), nil, key, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 7, v.Leads)
	v, err = GetOrCompute(ctx, c, zap.NewNop(), nil, key, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 7, v.Leads)
	assert.Equal(t, 1, calls, "second read should hit the cache")
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string, any) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenCache) Set(context.Context, string, any, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenCache) DeleteByPrefix(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestGetOrCompute_OutageFallsThrough(t *testing.T) {
	v, err := GetOrCompute(context.Background(), brokenCache{}, nil, nil, "k", time.Minute,
		func(ctx context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = GetOrCompute(context.Background(), Null{}, nil, nil, "k", time.Minute,
		func(ctx context.Context) (int, error) { return 0, errors.New("db down") })
	assert.EqualError(t, err, "db down")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	_, isNull := Open(ctx, nil, nil).(Null)
	assert.True(t, isNull)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	_, isRedis := Open(ctx, client, zap.NewNop()).(*RedisCache)
	assert.True(t, isRedis)
}
