package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// NewRedis connects to url and verifies the server answers a PING.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Checker adapts a client to the readiness probe.
type Checker struct {
	Client *redis.Client
}

func (c Checker) Name() string { return "redis" }

func (c Checker) Check(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return c.Client.Ping(ctx).Err()
}
