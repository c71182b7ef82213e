package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "anchor:cache:"

// RedisBackend stores cache entries in Redis so results survive restarts
// and are shared across replicas.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	log.Printf("[Cache] Connected to Redis at %s", addr)
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := b.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) {
	b.client.Del(ctx, redisKeyPrefix+key)
}

func (b *RedisBackend) Clear(ctx context.Context) {
	iter := b.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		b.client.Del(ctx, iter.Val())
	}
}

// Close releases the underlying Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
