package ratelimit

import "context"

// RateLimiter bounds outbound send throughput per delivery channel so a large
// flush cannot flood the mail gateway. Wait blocks until a slot is free or
// the context is cancelled.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}
