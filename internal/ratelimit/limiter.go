package ratelimit

import "context"

// RateLimiter bounds alarm dispatch throughput per category.
type RateLimiter interface {
	Allow(ctx context.Context, category string) (bool, error)
	Wait(ctx context.Context, category string) error
}
