package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"idcollect/internal/platform/redis"
)

const (
	tokenKeyPrefix = "token:v1:"
	entryKeyPrefix = "token:v1:entry:"

	// expiredRetention keeps records around past expiry so an expired link
	// answers expired rather than not_found.
	expiredRetention = 30 * 24 * time.Hour
)

// RedisStore is the distributed Store used when Redis is configured.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisToken struct {
	Value     string     `json:"value"`
	EntryID   string     `json:"entry_id"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

func (s *RedisStore) Save(ctx context.Context, tok *Token) error {
	prev, err := s.client.Get(ctx, entryKeyPrefix+tok.EntryID).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("load current token: %w", err)
	}
	if prev != "" {
		if err := s.MarkUsed(ctx, prev); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(fromToken(tok))
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	ttl := time.Until(tok.ExpiresAt) + expiredRetention
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+tok.Value, payload, ttl)
	pipe.Set(ctx, entryKeyPrefix+tok.EntryID, tok.Value, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, value string) (*Token, error) {
	payload, err := s.client.Get(ctx, tokenKeyPrefix+value).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	var rt redisToken
	if err := json.Unmarshal(payload, &rt); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return rt.toToken(), nil
}

func (s *RedisStore) MarkUsed(ctx context.Context, value string) error {
	key := tokenKeyPrefix + value
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}

	var rt redisToken
	if err := json.Unmarshal(payload, &rt); err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	if rt.UsedAt != nil {
		return nil
	}
	at := time.Now()
	rt.UsedAt = &at

	updated, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	// KeepTTL preserves the original retention window.
	if err := s.client.Set(ctx, key, updated, goredis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

func (s *RedisStore) CurrentValue(ctx context.Context, entryID string) (string, error) {
	value, err := s.client.Get(ctx, entryKeyPrefix+entryID).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load current token: %w", err)
	}
	return value, nil
}

func fromToken(tok *Token) redisToken {
	return redisToken{
		Value:     tok.Value,
		EntryID:   tok.EntryID,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
		UsedAt:    tok.UsedAt,
	}
}

func (rt redisToken) toToken() *Token {
	return &Token{
		Value:     rt.Value,
		EntryID:   rt.EntryID,
		IssuedAt:  rt.IssuedAt,
		ExpiresAt: rt.ExpiresAt,
		UsedAt:    rt.UsedAt,
	}
}
