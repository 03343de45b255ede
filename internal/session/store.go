package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ActivePrefix is the Redis key prefix for a user's active room.
	ActivePrefix = "session:active:"

	// DefaultTTL is how long an active-room entry lives without a refresh.
	DefaultTTL = 30 * time.Minute
)

// Store manages the user → active room mapping in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a store on client. A non-positive ttl uses DefaultTTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func key(userID int64) string {
	return ActivePrefix + strconv.FormatInt(userID, 10)
}

// Enter records roomID as the room userID is viewing and resets the TTL.
func (s *Store) Enter(ctx context.Context, userID int64, roomID string) error {
	if err := s.client.Set(ctx, key(userID), roomID, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: enter: %w", err)
	}
	return nil
}

// Leave clears userID's active room if it is still roomID. An empty roomID
// clears unconditionally.
func (s *Store) Leave(ctx context.Context, userID int64, roomID string) error {
	if roomID == "" {
		return s.client.Del(ctx, key(userID)).Err()
	}
	if err := leaveScript.Run(ctx, s.client, []string{key(userID)}, roomID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("session: leave: %w", err)
	}
	return nil
}

// ActiveRoom returns the room userID is viewing, or "" if none.
func (s *Store) ActiveRoom(ctx context.Context, userID int64) (string, error) {
	room, err := s.client.Get(ctx, key(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: active room: %w", err)
	}
	return room, nil
}

// IsViewing reports whether userID currently has roomID open.
func (s *Store) IsViewing(ctx context.Context, userID int64, roomID string) (bool, error) {
	room, err := s.ActiveRoom(ctx, userID)
	if err != nil {
		return false, err
	}
	return room != "" && room == roomID, nil
}

// RefreshTTL extends the entry's TTL. It is a no-op when userID has no
// active room.
func (s *Store) RefreshTTL(ctx context.Context, userID int64) error {
	if err := s.client.Expire(ctx, key(userID), s.ttl).Err(); err != nil {
		return fmt.Errorf("session: refresh ttl: %w", err)
	}
	return nil
}

// leaveScript deletes the key only when it still holds the given room, so a
// late leave from an old room does not clear a newer one.
var leaveScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)
