package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"idcollect/internal/platform/redis"
)

const keyPrefix = "ratelimit:v1:"

// RedisStore implements Store with a sorted set of request timestamps,
// shared across replicas.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	rkey := keyPrefix + key
	now := time.Now()
	cutoff := now.Add(-window)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	countCmd := pipe.ZCard(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ratelimit window cleanup: %w", err)
	}

	count := int(countCmd.Val())
	if count >= limit {
		oldest, err := s.oldest(ctx, rkey, now, window)
		if err != nil {
			return nil, err
		}
		return &Result{Allowed: false, ResetAt: oldest.Add(window), Limit: limit}, nil
	}

	// Member must be unique per request; the score carries the timestamp.
	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString())
	pipe = s.client.TxPipeline()
	pipe.ZAdd(ctx, rkey, goredis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, rkey, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ratelimit record request: %w", err)
	}

	return &Result{
		Allowed:   true,
		Remaining: limit - count - 1,
		ResetAt:   now.Add(window),
		Limit:     limit,
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("ratelimit reset: %w", err)
	}
	return nil
}

func (s *RedisStore) CurrentCount(ctx context.Context, key string) (int, error) {
	count, err := s.client.ZCard(ctx, keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit count: %w", err)
	}
	return int(count), nil
}

func (s *RedisStore) oldest(ctx context.Context, rkey string, now time.Time, window time.Duration) (time.Time, error) {
	zs, err := s.client.ZRangeWithScores(ctx, rkey, 0, 0).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("ratelimit oldest entry: %w", err)
	}
	if len(zs) == 0 {
		return now, nil
	}
	return time.Unix(0, int64(zs[0].Score)), nil
}
