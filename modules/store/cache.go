package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	domain "github.com/example/presence-chat/domain/chat"
)

// DefaultHistoryTTL is used when no cache TTL is configured.
const DefaultHistoryTTL = time.Minute

// cacheQueryTimeout bounds a shared miss query, which outlives any single caller.
const cacheQueryTimeout = 5 * time.Second

// backend is the uncached message store.
type backend interface {
	Save(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	AllByRoom(ctx context.Context, roomID string) ([]domain.Message, error)
}

// CacheStats counts history cache lookups.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// CachedRepository serves recent history from Redis and falls back to the
// backend on a miss. Concurrent misses for the same key share one query.
// Redis failures degrade to uncached reads.
//
// Keys carry a per-room generation that Save increments, so a miss that read
// the database before a concurrent Save can only fill a key nobody reads again.
type CachedRepository struct {
	next   backend
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger types.Logger

	hits     atomic.Uint64
	misses   atomic.Uint64
	failures atomic.Uint64
}

// NewCachedRepository wraps next with a Redis cache-aside layer.
func NewCachedRepository(next backend, client *redis.Client, ttl time.Duration, logger types.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &CachedRepository{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func historyKey(roomID string, gen int64, limit int) string {
	return "history:" + roomID + ":" + strconv.FormatInt(gen, 10) + ":" + strconv.Itoa(limit)
}

func generationKey(roomID string) string {
	return "history-gen:" + roomID
}

// Save persists msg and invalidates the cached history of its room.
func (c *CachedRepository) Save(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	saved, err := c.next.Save(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := c.client.Incr(ctx, generationKey(saved.RoomID)).Err(); err != nil {
		c.failures.Add(1)
		c.logger.Warn("Failed to bump history generation", "roomID", saved.RoomID, "error", err)
	}
	if err := c.invalidate(ctx, saved.RoomID); err != nil {
		c.failures.Add(1)
		c.logger.Warn("Failed to invalidate history cache", "roomID", saved.RoomID, "error", err)
	}
	return saved, nil
}

// Recent returns up to limit messages of roomID, most recent first.
func (c *CachedRepository) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	gen, err := c.generation(ctx, roomID)
	if err != nil {
		c.failures.Add(1)
		c.logger.Warn("History cache unavailable", "roomID", roomID, "error", err)
		return c.next.Recent(ctx, roomID, limit)
	}
	key := historyKey(roomID, gen, limit)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var messages []domain.Message
		if err := json.Unmarshal(data, &messages); err == nil {
			c.hits.Add(1)
			return messages, nil
		}
		c.failures.Add(1)
	case errors.Is(err, redis.Nil):
		c.misses.Add(1)
	default:
		c.failures.Add(1)
		c.logger.Warn("History cache unavailable", "key", key, "error", err)
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheQueryTimeout)
		defer cancel()

		messages, err := c.next.Recent(qctx, roomID, limit)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(messages); err == nil {
			if err := c.client.Set(qctx, key, data, c.ttl).Err(); err != nil {
				c.failures.Add(1)
			}
		}
		return messages, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Message), nil
}

// AllByRoom is not cached.
func (c *CachedRepository) AllByRoom(ctx context.Context, roomID string) ([]domain.Message, error) {
	return c.next.AllByRoom(ctx, roomID)
}

// Stats returns the current cache counters.
func (c *CachedRepository) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.failures.Load(),
	}
}

// Ping checks the Redis connection.
func (c *CachedRepository) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *CachedRepository) generation(ctx context.Context, roomID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(roomID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// invalidate deletes the room's cached pages early instead of leaving old
// generations to expire.
func (c *CachedRepository) invalidate(ctx context.Context, roomID string) error {
	var cursor uint64
	pattern := "history:" + globEscaper.Replace(roomID) + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan error: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache delete error: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
