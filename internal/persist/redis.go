package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyuha/server/internal/world"
)

// RedisBackend stores the document under one key. Conditional saves use
// WATCH/MULTI so concurrent processes sharing the key never lose writes.
type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(ctx context.Context, url, key string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisBackendFromClient(client, key), nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = "vyuha:state"
	}
	return &RedisBackend{client: client, key: key}
}

func (r *RedisBackend) Load(ctx context.Context) (*world.State, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeState(b)
}

func (r *RedisBackend) Save(ctx context.Context, s *world.State) error {
	b, err := encodeState(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, b, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisBackend) SaveIf(ctx context.Context, s *world.State, expected uint64) error {
	b, err := encodeState(s)
	if err != nil {
		return err
	}
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, r.key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expected != 0 {
				return ErrConflict
			}
		case err != nil:
			return fmt.Errorf("redis get: %w", err)
		default:
			v, err := decodeVersion(cur)
			if err != nil {
				return err
			}
			if v != expected {
				return ErrConflict
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, r.key, b, 0)
			return nil
		})
		return err
	}, r.key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
