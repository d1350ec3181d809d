package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache sits in front of another Gateway and caches member lookups for
// a short TTL. Mention resolution hits the directory once per token, so a
// busy comment thread would otherwise hammer the members table.
type RedisCache struct {
	client *redis.Client
	next   Gateway
	ttl    time.Duration
	prefix string
}

func NewRedisCache(redisURL string, next Gateway, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, next, ttl), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client.
func NewRedisCacheWithClient(client *redis.Client, next Gateway, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{
		client: client,
		next:   next,
		ttl:    ttl,
		prefix: "member:",
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(idOrEmail string) string {
	return c.prefix + idOrEmail
}

func (c *RedisCache) ResolveMember(ctx context.Context, idOrEmail string) (Member, error) {
	key := c.key(idOrEmail)
	cached, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var item Member
		if err := json.Unmarshal(cached, &item); err == nil {
			return item, nil
		}
	}

	item, err := c.next.ResolveMember(ctx, idOrEmail)
	if err != nil {
		return Member{}, err
	}

	if encoded, err := json.Marshal(item); err == nil {
		// Best effort; a failed cache write never fails the lookup.
		_ = c.client.Set(ctx, key, encoded, c.ttl).Err()
	}
	return item, nil
}

// ListMembers is not cached; it backs directory validation of whole assignee
// sets, which is rare next to per-token mention lookups.
func (c *RedisCache) ListMembers(ctx context.Context, namespaceID string) ([]Member, error) {
	return c.next.ListMembers(ctx, namespaceID)
}
