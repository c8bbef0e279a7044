package statestore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "conversation_phase"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (string, error) {
	phase, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return phase, nil
}

func (s *RedisStore) Set(ctx context.Context, userID int64, phase string, ttl time.Duration) error {
	if ttl <= 0 || phase == "" {
		return s.Delete(ctx, userID)
	}
	return s.client.Set(ctx, s.key(userID), phase, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}

func (s *RedisStore) key(userID int64) string {
	return fmt.Sprintf("%s:%d", s.prefix, userID)
}
