package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLimiter(t *testing.T) (*Limiter, context.Context) {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}
	rdb.FlushDB(ctx)

	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})
	return NewLimiter(rdb, nil), ctx
}

func TestAllow_BlocksAfterLimit(t *testing.T) {
	l, ctx := setupTestLimiter(t)
	rule := RuleLike.WithLimit(3)

	for i := 0; i < 3; i++ {
		ok, err := l.AllowUser(ctx, 42, rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := l.AllowUser(ctx, 42, rule)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other users are unaffected.
	ok, err = l.AllowUser(ctx, 43, rule)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllow_WindowResets(t *testing.T) {
	l, ctx := setupTestLimiter(t)
	rule := Rule{Name: "test", Key: "rl:test:", Limit: 1, Window: time.Second}

	ok, _ := l.Allow(ctx, "u", rule)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "u", rule)
	assert.False(t, ok)

	time.Sleep(1200 * time.Millisecond)
	ok, _ = l.Allow(ctx, "u", rule)
	assert.True(t, ok)
}

func TestRemaining(t *testing.T) {
	l, ctx := setupTestLimiter(t)
	rule := RuleRespond.WithLimit(2)

	n, err := l.Remaining(ctx, "7", rule)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, _ = l.AllowUser(ctx, 7, rule)
	n, err = l.RemainingUser(ctx, 7, rule)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _ = l.AllowUser(ctx, 7, rule)
	_, _ = l.AllowUser(ctx, 7, rule)

	n, err = l.Remaining(ctx, "7", rule)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAllow_FailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	l := NewLimiter(rdb, nil)
	ok, err := l.AllowUser(context.Background(), 1, RuleLike)
	assert.Error(t, err)
	assert.True(t, ok)
}
