// Package chat creates and looks up the chatroom opened for a matched pair.
// Rooms live in Redis and are keyed by the unordered user pair, so creating
// one twice for the same two users returns the same room.
package chat

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	RoomPrefix = "chatroom:"
	PairPrefix = "chatroom:pair:"

	StatusActive = "active"
	StatusClosed = "closed"
)

// Room is a chatroom between two users.
type Room struct {
	ID        string
	UserA     int64
	UserB     int64
	Status    string
	CreatedAt int64
}

// Partner returns the other participant, or 0 if user is not one.
func (r *Room) Partner(user int64) int64 {
	if user == r.UserA {
		return r.UserB
	}
	if user == r.UserB {
		return r.UserA
	}
	return 0
}

// IsParticipant checks if user is part of this room.
func (r *Room) IsParticipant(user int64) bool {
	return user == r.UserA || user == r.UserB
}

// Store manages chatroom state in Redis.
type Store struct {
	rdb          *redis.Client
	createScript *redis.Script
	newID        func() string
}

// NewStore creates a new chatroom store backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:          rdb,
		createScript: redis.NewScript(createRoomLua),
		newID:        func() string { return uuid.New().String() },
	}
}

// PairKey returns the Redis key indexing the room of an unordered pair.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return PairPrefix + strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}

// CreateIfNotExists returns the room of the pair, creating it atomically
// when none exists. A closed room is reopened.
func (s *Store) CreateIfNotExists(ctx context.Context, userA, userB int64) (string, error) {
	if userA == userB {
		return "", fmt.Errorf("chat: create room: users must differ")
	}
	if userA > userB {
		userA, userB = userB, userA
	}
	id := s.newID()
	roomID, err := s.createScript.Run(ctx, s.rdb,
		[]string{PairKey(userA, userB), RoomPrefix + id},
		id, userA, userB, time.Now().Unix(), RoomPrefix,
	).Text()
	if err != nil {
		return "", fmt.Errorf("chat: create room: %w", err)
	}
	return roomID, nil
}

// Get retrieves a room. Returns nil if not found.
func (s *Store) Get(ctx context.Context, roomID string) (*Room, error) {
	result, err := s.rdb.HGetAll(ctx, RoomPrefix+roomID).Result()
	if err != nil {
		return nil, fmt.Errorf("chat: get room: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	userA, _ := strconv.ParseInt(result["user_a"], 10, 64)
	userB, _ := strconv.ParseInt(result["user_b"], 10, 64)
	createdAt, _ := strconv.ParseInt(result["created_at"], 10, 64)

	return &Room{
		ID:        roomID,
		UserA:     userA,
		UserB:     userB,
		Status:    result["status"],
		CreatedAt: createdAt,
	}, nil
}

// FindByPair returns the room id of the pair, or "" if none exists.
func (s *Store) FindByPair(ctx context.Context, a, b int64) (string, error) {
	id, err := s.rdb.Get(ctx, PairKey(a, b)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("chat: find room: %w", err)
	}
	return id, nil
}

// Close marks a room closed. The pair index is kept so the same pair gets
// the same room back from CreateIfNotExists.
func (s *Store) Close(ctx context.Context, roomID string) error {
	return s.rdb.HSet(ctx, RoomPrefix+roomID, "status", StatusClosed).Err()
}

// createRoomLua atomically claims the pair key. If another caller won, the
// existing room id is returned, its room reopened, and no new room hash is
// written.
const createRoomLua = `
local pair_key = KEYS[1]
local room_key = KEYS[2]

local existing = redis.call('GET', pair_key)
if existing then
    local existing_key = ARGV[5] .. existing
    if redis.call('HGET', existing_key, 'status') == 'closed' then
        redis.call('HSET', existing_key, 'status', 'active')
    end
    return existing
end

redis.call('SET', pair_key, ARGV[1])
redis.call('HSET', room_key,
    'user_a', ARGV[2],
    'user_b', ARGV[3],
    'status', 'active',
    'created_at', ARGV[4])
return ARGV[1]
`
