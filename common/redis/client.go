package redis

import (
	"context"
	"fmt"

	"wisefido-vitals/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis client alias so callers need not import go-redis directly
type Client = redis.Client

// NewRedisClient builds a client from config; the connection is lazy
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks connectivity
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close closes the client
func Close(client *redis.Client) error {
	return client.Close()
}
