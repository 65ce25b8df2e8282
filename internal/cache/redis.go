package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(ctx context.Context, addr string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	// Проверка соединения
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	return &RedisClient{client: client}, nil
}

func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return data, nil
}

func (r *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s in redis: %w", key, err)
	}
	return nil
}

func (r *RedisClient) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

func (r *RedisClient) PushRecent(ctx context.Context, listKey string, value []byte, limit int64) error {
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, listKey, value)
	pipe.LTrim(ctx, listKey, 0, limit-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update list %s: %w", listKey, err)
	}
	return nil
}

func (r *RedisClient) Recent(ctx context.Context, listKey string, count int64) ([][]byte, error) {
	items, err := r.client.LRange(ctx, listKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", listKey, err)
	}

	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
