package repository

import (
	"context"
	"fmt"

	"mlsync/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisCancelFlags stores cancel flags in Redis so any process in the
// deployment can raise or observe them.
type RedisCancelFlags struct {
	client *redis.Client
}

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisCancelFlags(client *redis.Client) *RedisCancelFlags {
	return &RedisCancelFlags{client: client}
}

func cancelKey(jobID string) string {
	return fmt.Sprintf("cancel_flag:%s", jobID)
}

func (r *RedisCancelFlags) Set(ctx context.Context, jobID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, cancelKey(jobID), "1", defaultFlagTTL).Err(); err != nil {
		return fmt.Errorf("failed to set cancel flag in redis: %w", err)
	}
	return nil
}

func (r *RedisCancelFlags) IsSet(ctx context.Context, jobID string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	_, err := r.client.Get(ctx, cancelKey(jobID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cancel flag from redis: %w", err)
	}
	return true, nil
}

func (r *RedisCancelFlags) Clear(ctx context.Context, jobID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, cancelKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cancel flag from redis: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
