package store

import (
	"context"
	"fmt"

	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/redis/go-redis/v9"
)

// RedisBackend stores pairs as plain string keys named "<scope>:<key>".
type RedisBackend struct {
	client *redis.Client
	scope  string
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, scope string) *RedisBackend {
	return &RedisBackend{client: client, scope: scope}
}

// OpenRedis connects using cfg and checks the connection with PING.
func OpenRedis(ctx context.Context, cfg shared.RedisConfig, scope string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisBackend(client, scope), nil
}

// Close closes the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) key(k string) string {
	return b.scope + ":" + k
}

func (b *RedisBackend) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	scoped := make([]string, len(keys))
	for i, k := range keys {
		scoped[i] = b.key(k)
	}

	vals, err := b.client.MGet(ctx, scoped...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET failed: %w", err)
	}

	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

// Put writes every pair in a single MULTI/EXEC block.
func (b *RedisBackend) Put(ctx context.Context, values map[string]string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, b.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis transaction failed: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	scoped := make([]string, len(keys))
	for i, k := range keys {
		scoped[i] = b.key(k)
	}

	if err := b.client.Del(ctx, scoped...).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}
