package candidate

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimate/roommate/internal/postgres/postgrestest"
	"github.com/unimate/roommate/internal/profile"
)

// setupTestRedis connects to a test Redis instance on DB 15. Tests are
// skipped if Redis is unavailable.
func setupTestRedis(t *testing.T) *redis.Client {
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
	return rdb
}

type countingRepo struct {
	*MemoryRepository
	lists    atomic.Int32
	profiles atomic.Int32
}

func (c *countingRepo) ListCandidates(ctx context.Context) ([]*profile.Profile, error) {
	c.lists.Add(1)
	return c.MemoryRepository.ListCandidates(ctx)
}

func (c *countingRepo) Profile(ctx context.Context, userID int64) (*profile.Profile, error) {
	c.profiles.Add(1)
	return c.MemoryRepository.Profile(ctx, userID)
}

func seedMemory() *MemoryRepository {
	r := NewMemoryRepository()
	r.PutProfile(profile.Profile{UserID: 2, Name: "bora", MatchingEnabled: true})
	r.PutProfile(profile.Profile{UserID: 1, Name: "ana", MatchingEnabled: true})
	r.PutProfile(profile.Profile{UserID: 3, Name: "chae", MatchingEnabled: false})
	r.PutPreference(profile.Preference{UserID: 1, Lifestyle: profile.Lifestyle{SleepTime: profile.Int(2)}})
	return r
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	r := seedMemory()

	list, err := r.ListCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].UserID)
	assert.True(t, list[0].HasPreference)
	assert.False(t, list[1].HasPreference)

	p, err := r.Profile(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.MatchingEnabled)

	none, err := r.Preference(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, r.SetMatchingEnabled(ctx, 1, false))
	list, err = r.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, r.SetMatchingEnabled(ctx, 99, true), ErrNoProfile)
}

func TestCachedRepository_ServesSnapshotUntilInvalidated(t *testing.T) {
	rdb := setupTestRedis(t)
	ctx := context.Background()

	inner := &countingRepo{MemoryRepository: seedMemory()}
	c := NewCachedRepository(inner, rdb, time.Minute, nil)

	list, err := c.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// A change in the source is not visible until the snapshot is dropped.
	inner.PutProfile(profile.Profile{UserID: 4, Name: "dana", MatchingEnabled: true})
	list, err = c.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, int32(1), inner.lists.Load())

	require.NoError(t, c.Invalidate(ctx))
	list, err = c.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, int32(2), inner.lists.Load())

	ttl, err := rdb.TTL(ctx, SnapshotKey).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestCachedRepository_ProfileFallsBackForDisabledUsers(t *testing.T) {
	rdb := setupTestRedis(t)
	ctx := context.Background()
	c := NewCachedRepository(seedMemory(), rdb, 0, nil)

	p, err := c.Profile(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "bora", p.Name)

	p, err = c.Profile(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "chae", p.Name)

	pref, err := c.Preference(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.Equal(t, 2, *pref.Lifestyle.SleepTime)
}

func TestCachedRepository_ProfileReadsSingleField(t *testing.T) {
	rdb := setupTestRedis(t)
	ctx := context.Background()

	inner := &countingRepo{MemoryRepository: seedMemory()}
	c := NewCachedRepository(inner, rdb, time.Minute, nil)

	// The first lookup builds the snapshot.
	p, err := c.Profile(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "ana", p.Name)
	assert.Equal(t, int32(1), inner.lists.Load())

	typ, err := rdb.Type(ctx, SnapshotKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "hash", typ)
	n, err := rdb.HLen(ctx, SnapshotKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "two profiles plus the loaded marker")

	for i := 0; i < 5; i++ {
		p, err = c.Profile(ctx, 2)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "bora", p.Name)
	}
	assert.Equal(t, int32(1), inner.lists.Load())
	assert.Equal(t, int32(0), inner.profiles.Load())

	// Disabled users are not in the snapshot.
	p, err = c.Profile(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int32(1), inner.profiles.Load())

	list, err := c.ListCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].UserID)
	assert.Equal(t, int64(2), list[1].UserID)
	assert.Equal(t, int32(1), inner.lists.Load())
}

func TestCachedRepository_EmptyUniverseIsCached(t *testing.T) {
	rdb := setupTestRedis(t)
	ctx := context.Background()

	inner := &countingRepo{MemoryRepository: NewMemoryRepository()}
	c := NewCachedRepository(inner, rdb, time.Minute, nil)

	for i := 0; i < 3; i++ {
		list, err := c.ListCandidates(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	}
	assert.Equal(t, int32(1), inner.lists.Load())
}

func TestCachedRepository_ConcurrentMissesLoadOnce(t *testing.T) {
	rdb := setupTestRedis(t)
	ctx := context.Background()

	inner := &countingRepo{MemoryRepository: seedMemory()}
	c := NewCachedRepository(inner, rdb, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ListCandidates(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Concurrent misses collapse; later readers hit the snapshot.
	assert.LessOrEqual(t, inner.lists.Load(), int32(16))
	_, err := c.ListCandidates(ctx)
	require.NoError(t, err)
	n := inner.lists.Load()
	_, err = c.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, inner.lists.Load())
}

func TestPostgresRepository(t *testing.T) {
	db := postgrestest.Open(t)
	ctx := context.Background()

	ana := postgrestest.SeedUser(t, db, postgrestest.User{Name: "ana", MatchingEnabled: true, WithPreference: true, SleepTime: 2})
	bora := postgrestest.SeedUser(t, db, postgrestest.User{Name: "bora", MatchingEnabled: true})
	chae := postgrestest.SeedUser(t, db, postgrestest.User{Name: "chae", MatchingEnabled: false, WithPreference: true})

	r := NewPostgresRepository(db)

	list, err := r.ListCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ana, list[0].UserID)
	assert.True(t, list[0].HasPreference)
	assert.Equal(t, bora, list[1].UserID)
	assert.False(t, list[1].HasPreference)
	require.NotNil(t, list[0].Lifestyle.SleepTime)
	assert.Equal(t, 2, *list[0].Lifestyle.SleepTime)
	assert.Nil(t, list[0].Lifestyle.PetAllowed)
	require.NotNil(t, list[0].StartUseDate)

	p, err := r.Profile(ctx, chae)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.MatchingEnabled)

	pref, err := r.Preference(ctx, ana)
	require.NoError(t, err)
	require.NotNil(t, pref)
	require.NotNil(t, pref.BirthDate)
	assert.Equal(t, 2, *pref.Lifestyle.SleepTime)

	none, err := r.Preference(ctx, bora)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, r.SetMatchingEnabled(ctx, ana, false))
	list, err = r.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, r.SetMatchingEnabled(ctx, 9999, true), ErrNoProfile)
}
