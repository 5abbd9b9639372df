package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "wallet-core"

// NewRedisClient parses url, connects and pings
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps secure items as plain Redis strings without expiry
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(service, key string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, service, key)
}

func (s *RedisStore) Get(ctx context.Context, service, key string) ([]byte, error) {
	if err := validateItemKey(service, key); err != nil {
		return nil, err
	}

	value, err := s.client.Get(ctx, redisKey(service, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, service, key string, value []byte) error {
	if err := validateItemKey(service, key); err != nil {
		return err
	}

	if err := s.client.Set(ctx, redisKey(service, key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, service, key string) error {
	if err := validateItemKey(service, key); err != nil {
		return err
	}

	if err := s.client.Del(ctx, redisKey(service, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var _ SecureStore = (*RedisStore)(nil)
