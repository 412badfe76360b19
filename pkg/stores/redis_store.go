package stores

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces data source keys in a shared Redis.
const DefaultRedisPrefix = "vizor:datasource:"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	// TTL expires entries after the given duration. Zero keeps them until
	// deleted.
	TTL time.Duration
}

// RedisStore shares data sources between hosts through Redis. Values are
// stored as JSON strings.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. The connection is verified by
// Init.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// Init verifies the server is reachable.
func (s *RedisStore) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}

// Migrate is a no-op.
func (s *RedisStore) Migrate(_ context.Context) error { return nil }

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// HealthCheck pings the server.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Put stores value under key.
func (s *RedisStore) Put(ctx context.Context, key string, value interface{}) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to put data source %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (interface{}, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get data source %s: %w", key, err)
	}

	value, err := decodeValue(data)
	if err != nil {
		return nil, false, fmt.Errorf("data source %s: %w", key, err)
	}
	return value, true, nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete data source %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys under the store prefix.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}
