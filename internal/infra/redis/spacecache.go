package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/salesops/notify-relay/internal/chat"
)

const spaceCacheKeyPrefix = "dmspace:"

var _ chat.SpaceCache = (*RedisSpaceCache)(nil)

// RedisSpaceCache memoizes resolved DM space handles per user. Entries are
// a pure cache over the idempotent remote find-or-create call, so there is
// no cross-process locking; a concurrent miss costs one duplicate call.
type RedisSpaceCache struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisSpaceCache(client *goredis.Client, ttl time.Duration) (*RedisSpaceCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = 0 // no expiry; space handles are stable
	}

	return &RedisSpaceCache{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (c *RedisSpaceCache) Get(ctx context.Context, userID string) (*chat.SpaceEntry, error) {
	key, err := spaceCacheKey(userID)
	if err != nil {
		return nil, err
	}

	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read space cache: %w", err)
	}

	var entry chat.SpaceEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// A corrupt entry behaves like a miss; the resolver refreshes it.
		return nil, nil
	}

	return &entry, nil
}

func (c *RedisSpaceCache) Put(ctx context.Context, userID string, entry chat.SpaceEntry) error {
	key, err := spaceCacheKey(userID)
	if err != nil {
		return err
	}

	entry.UpdatedAt = c.now().UTC()
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode space cache entry: %w", err)
	}

	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write space cache: %w", err)
	}
	return nil
}

func spaceCacheKey(userID string) (string, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return "", fmt.Errorf("user id is required")
	}
	return spaceCacheKeyPrefix + trimmed, nil
}
