package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any Redis failure.
var ErrUnavailable = errors.New("permcache: redis unavailable")

type entry struct {
	Generation  int64    `json:"g"`
	Permissions []string `json:"p"`
}

// Cache stores resolved permission sets in Redis. Each user has a
// generation counter that Invalidate bumps; an entry written under an older
// generation is ignored, so a slow reader cannot resurrect a set computed
// before a role change.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a cache using keys under prefix.
func New(client redis.UniversalClient, prefix string) *Cache {
	if prefix == "" {
		prefix = "authkit"
	}
	return &Cache{redis: client, prefix: prefix}
}

// Generation returns the user's current generation. Readers must fetch it
// before loading permissions from the store and pass it to Set.
func (c *Cache) Generation(ctx context.Context, userID string) (int64, error) {
	g, err := c.redis.Get(ctx, c.genKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return g, nil
}

// Get returns the cached set when present and current.
func (c *Cache) Get(ctx context.Context, userID string) ([]string, bool, error) {
	vals, err := c.redis.MGet(ctx, c.entryKey(userID), c.genKey(userID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, false, nil
	}
	var current int64
	if s, ok := vals[1].(string); ok {
		current, _ = strconv.ParseInt(s, 10, 64)
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil || e.Generation != current {
		return nil, false, nil
	}
	return e.Permissions, true, nil
}

// Set caches perms computed under generation for ttl. A non-positive ttl is
// a no-op.
func (c *Cache) Set(ctx context.Context, userID string, generation int64, perms []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if perms == nil {
		perms = []string{}
	}
	data, err := json.Marshal(entry{Generation: generation, Permissions: perms})
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, c.entryKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Invalidate bumps the user's generation and drops the cached entry.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	pipe := c.redis.TxPipeline()
	pipe.Incr(ctx, c.genKey(userID))
	pipe.Del(ctx, c.entryKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *Cache) entryKey(userID string) string {
	return c.prefix + ":perm:" + userID
}

func (c *Cache) genKey(userID string) string {
	return c.prefix + ":permgen:" + userID
}
