package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"idcollect/internal/platform/redis"
)

// Cache holds analyses between the analyze call and the confirming call.
// Take removes atomically, which is what makes an analysis single-use.
type Cache interface {
	Put(ctx context.Context, a *Analysis) error
	Take(ctx context.Context, id string) (*Analysis, error)
}

// MemoryCache is the in-process Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*Analysis
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Analysis)}
}

func (c *MemoryCache) Put(ctx context.Context, a *Analysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[a.ID] = a
	return nil
}

func (c *MemoryCache) Take(ctx context.Context, id string) (*Analysis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.entries[id]
	delete(c.entries, id)
	return a, nil
}

const cacheKeyPrefix = "analysis:v1:"

// RedisCache shares analyses across replicas. Redis TTL handles expiry and
// GETDEL makes Take atomic.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Put(ctx context.Context, a *Analysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	ttl := time.Until(a.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+a.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache analysis: %w", err)
	}
	return nil
}

func (c *RedisCache) Take(ctx context.Context, id string) (*Analysis, error) {
	payload, err := c.client.GetDel(ctx, cacheKeyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take analysis: %w", err)
	}
	var a Analysis
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &a, nil
}
