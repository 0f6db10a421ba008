package app

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is the slice of the distributed limiter the treasury needs.
// Implemented by RedisRateLimiter; a nil limiter disables throttling.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitedError reports that an actor exceeded a throttle window.
type RateLimitedError struct {
	Scope             string
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %ds", e.Scope, e.RetryAfterSeconds)
}

// RateLimitPolicy bounds one throttle scope.
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

// checkRateLimit consumes one unit against the limiter. Limiter errors are
// reported to the caller for logging but never block the operation.
func checkRateLimit(ctx context.Context, limiter RateLimiter, scope, subject string, policy RateLimitPolicy) error {
	if limiter == nil || policy.Limit <= 0 || policy.Window <= 0 {
		return nil
	}
	count, retryAfter, err := limiter.ConsumeRateLimit(ctx, scope, subject, policy.Limit, policy.Window)
	if err != nil {
		return err
	}
	if count > policy.Limit {
		return &RateLimitedError{Scope: scope, RetryAfterSeconds: retryAfter}
	}
	return nil
}
