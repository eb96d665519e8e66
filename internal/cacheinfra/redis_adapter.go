package cacheinfra

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const scanBatch = 256

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces every key written by the store. Clear only touches
	// keys under this prefix.
	KeyPrefix string
	// DefaultTTL applies when Set receives a non-positive ttl.
	DefaultTTL time.Duration
}

// Validate returns the first invalid field as a *ConfigError.
func (c RedisConfig) Validate() error {
	return firstError(
		required("Redis.Addr", c.Addr),
		required("Redis.KeyPrefix", c.KeyPrefix),
		nonNegative("Redis.DB", c.DB),
		nonNegative("Redis.DefaultTTL", c.DefaultTTL),
	)
}

// RedisStore keeps msgpack encoded values in redis. Get returns msgpack.RawMessage
// payloads which callers decode into their own types.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

// NewRedisStore validates cfg and connects a new client.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.DefaultTTL), nil
}

// NewRedisStoreWithClient wraps an existing client. The caller owns the client lifecycle.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *RedisStore {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the raw msgpack payload stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return msgpack.RawMessage(data), true, nil
}

// Set encodes value with msgpack and stores it with ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if raw, ok := value.(msgpack.RawMessage); ok {
		return s.client.Set(ctx, s.key(key), []byte(raw), s.ttl(ttl)).Err()
	}
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, s.ttl(ttl)).Err()
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// Clear deletes every key under the store prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	match := s.prefix + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}
