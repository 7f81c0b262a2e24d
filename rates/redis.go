package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores snapshots as JSON under "<prefix><BASE>" so several
// engine instances share the last known prices.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to url (redis://...) and pings it.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisCache{client: client, prefix: "payroll:rates:", ttl: ttl}, nil
}

// WithPrefix returns a cache sharing c's connection under another key
// namespace, so crypto and FX snapshots for the same base do not collide.
func (c *RedisCache) WithPrefix(prefix string) *RedisCache {
	return &RedisCache{client: c.client, prefix: prefix, ttl: c.ttl}
}

func (c *RedisCache) Get(ctx context.Context, base string) (Table, error) {
	b, err := c.client.Get(ctx, c.prefix+normalizeSymbol(base)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Table{}, ErrCacheMiss
	}
	if err != nil {
		return Table{}, fmt.Errorf("redis get rates: %w", err)
	}

	var t Table
	if err := json.Unmarshal(b, &t); err != nil {
		return Table{}, fmt.Errorf("decode cached rates: %w", err)
	}
	return t, nil
}

func (c *RedisCache) Put(ctx context.Context, t Table) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+t.Base(), b, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
