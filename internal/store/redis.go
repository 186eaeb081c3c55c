package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Repository on top of Redis, for deployments that run
// more than one server instance against shared device state.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// stateKey returns the Redis key for one device value.
func stateKey(deviceID, key string) string {
	return fmt.Sprintf("companion:%s:%s", deviceID, key)
}

// Get returns the value stored under key for a device.
func (s *RedisStore) Get(ctx context.Context, deviceID, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, stateKey(deviceID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Put creates or replaces a value. Values never expire.
func (s *RedisStore) Put(ctx context.Context, deviceID, key string, value []byte) error {
	if err := s.client.Set(ctx, stateKey(deviceID, key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a value.
func (s *RedisStore) Delete(ctx context.Context, deviceID, key string) error {
	if err := s.client.Del(ctx, stateKey(deviceID, key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
