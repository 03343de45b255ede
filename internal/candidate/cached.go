package candidate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/unimate/roommate/internal/logging"
	"github.com/unimate/roommate/internal/metrics"
	"github.com/unimate/roommate/internal/profile"
)

const (
	// SnapshotKey is a hash of JSON-encoded profiles keyed by user id. The
	// loadedField marker tells an empty universe apart from a miss.
	SnapshotKey = "candidates:snapshot"
	loadedField = "_loaded"

	// DefaultTTL bounds how stale a snapshot may be.
	DefaultTTL = 10 * time.Minute
)

// CachedRepository serves candidates from a Redis snapshot of an underlying
// Repository. The snapshot is rebuilt on miss and expires after the TTL.
// Preference lookups always go to the underlying source.
type CachedRepository struct {
	inner  Repository
	rdb    *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewCachedRepository wraps inner with a Redis snapshot. A non-positive ttl
// uses DefaultTTL.
func NewCachedRepository(inner Repository, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedRepository{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: logging.Component(logger, "candidate-cache"),
	}
}

// ListCandidates implements Repository. Profiles are ordered by user id.
func (c *CachedRepository) ListCandidates(ctx context.Context) ([]*profile.Profile, error) {
	fields, err := c.rdb.HGetAll(ctx, SnapshotKey).Result()
	switch {
	case err != nil:
		metrics.CandidateCache.WithLabelValues("error").Inc()
		c.logger.Warn("snapshot read failed, using source", zap.Error(err))
		return c.inner.ListCandidates(ctx)
	case fields[loadedField] != "":
		out := make([]*profile.Profile, 0, len(fields)-1)
		for field, data := range fields {
			if field == loadedField {
				continue
			}
			var p profile.Profile
			if err := json.Unmarshal([]byte(data), &p); err != nil {
				c.logger.Warn("discarding undecodable snapshot", zap.String("field", field), zap.Error(err))
				return c.rebuild(ctx)
			}
			out = append(out, &p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
		metrics.CandidateCache.WithLabelValues("hit").Inc()
		return out, nil
	}
	return c.rebuild(ctx)
}

// Profile implements Repository. Only userID's field is read from the
// snapshot. Users outside it (matching disabled) are read from the
// underlying source.
func (c *CachedRepository) Profile(ctx context.Context, userID int64) (*profile.Profile, error) {
	field := strconv.FormatInt(userID, 10)
	vals, err := c.rdb.HMGet(ctx, SnapshotKey, loadedField, field).Result()
	if err != nil {
		metrics.CandidateCache.WithLabelValues("error").Inc()
		c.logger.Warn("snapshot read failed, using source", zap.Error(err))
		return c.inner.Profile(ctx, userID)
	}
	if vals[0] == nil {
		all, err := c.rebuild(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range all {
			if p.UserID == userID {
				return p, nil
			}
		}
		return c.inner.Profile(ctx, userID)
	}
	data, ok := vals[1].(string)
	if !ok {
		return c.inner.Profile(ctx, userID)
	}
	var p profile.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		c.logger.Warn("discarding undecodable profile", zap.Int64("user", userID), zap.Error(err))
		return c.inner.Profile(ctx, userID)
	}
	metrics.CandidateCache.WithLabelValues("hit").Inc()
	return &p, nil
}

// Preference implements Repository.
func (c *CachedRepository) Preference(ctx context.Context, userID int64) (*profile.Preference, error) {
	return c.inner.Preference(ctx, userID)
}

// Invalidate drops the snapshot so the next read rebuilds it.
func (c *CachedRepository) Invalidate(ctx context.Context) error {
	if err := c.rdb.Del(ctx, SnapshotKey).Err(); err != nil {
		return fmt.Errorf("candidate: invalidate: %w", err)
	}
	return nil
}

// rebuild reloads the snapshot from the source. Concurrent misses share one
// load.
func (c *CachedRepository) rebuild(ctx context.Context) ([]*profile.Profile, error) {
	metrics.CandidateCache.WithLabelValues("miss").Inc()
	v, err, _ := c.group.Do(SnapshotKey, func() (any, error) {
		return c.reload(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*profile.Profile), nil
}

func (c *CachedRepository) reload(ctx context.Context) ([]*profile.Profile, error) {
	all, err := c.inner.ListCandidates(ctx)
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, 2*len(all)+2)
	values = append(values, loadedField, "1")
	for _, p := range all {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("candidate: encode snapshot: %w", err)
		}
		values = append(values, strconv.FormatInt(p.UserID, 10), data)
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, SnapshotKey)
		pipe.HSet(ctx, SnapshotKey, values...)
		pipe.Expire(ctx, SnapshotKey, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("snapshot write failed", zap.Error(err))
	}
	c.logger.Debug("snapshot rebuilt", zap.Int("candidates", len(all)))
	return all, nil
}
