package chat

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a Store connected to a test Redis instance.
// Tests are skipped if Redis is unavailable.
func setupTestStore(t *testing.T) (*Store, context.Context) {
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
	return NewStore(rdb), ctx
}

func TestPairKey_Unordered(t *testing.T) {
	assert.Equal(t, PairKey(3, 7), PairKey(7, 3))
	assert.Equal(t, "chatroom:pair:3:7", PairKey(7, 3))
}

func TestRoom_Partner(t *testing.T) {
	r := &Room{UserA: 1, UserB: 2}
	assert.Equal(t, int64(2), r.Partner(1))
	assert.Equal(t, int64(1), r.Partner(2))
	assert.Equal(t, int64(0), r.Partner(9))
	assert.False(t, r.IsParticipant(9))
}

func TestCreateIfNotExists_Idempotent(t *testing.T) {
	s, ctx := setupTestStore(t)

	id1, err := s.CreateIfNotExists(ctx, 1, 2)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := s.CreateIfNotExists(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	room, err := s.Get(ctx, id1)
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, int64(1), room.UserA)
	assert.Equal(t, int64(2), room.UserB)
	assert.Equal(t, StatusActive, room.Status)

	found, err := s.FindByPair(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, id1, found)
}

func TestCreateIfNotExists_ConcurrentCallersShareRoom(t *testing.T) {
	s, ctx := setupTestStore(t)

	ids := make([]string, 10)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.CreateIfNotExists(ctx, 5, 6)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	keys, err := s.rdb.Keys(ctx, RoomPrefix+"*").Result()
	require.NoError(t, err)
	// One room hash plus one pair index.
	assert.Len(t, keys, 2)
}

func TestCreateIfNotExists_RejectsSelf(t *testing.T) {
	s := NewStore(nil)
	_, err := s.CreateIfNotExists(context.Background(), 4, 4)
	assert.Error(t, err)
}

func TestGet_Missing(t *testing.T) {
	s, ctx := setupTestStore(t)
	room, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, room)

	id, err := s.FindByPair(ctx, 8, 9)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestClose_ReopenedByCreate(t *testing.T) {
	s, ctx := setupTestStore(t)
	id, err := s.CreateIfNotExists(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx, id))
	room, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, room.Status)

	again, err := s.CreateIfNotExists(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	room, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, room.Status, "recreating the pair reopens the room")
	assert.Equal(t, int64(1), room.UserA)

	found, err := s.FindByPair(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, id, found)
}
