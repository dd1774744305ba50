package ratelimit

import "context"

// RateLimiter throttles plan submissions.
//
// Implementations use GCRA (Generic Cell Rate Algorithm), which spreads
// requests evenly over the period instead of resetting at window boundaries.
type RateLimiter interface {
	// Allow atomically consumes one unit for key under config. When the
	// request is denied, RetryAfter tells when the next one will pass.
	// key should come from TenantKey or UserKey.
	Allow(ctx context.Context, key string, config RateLimitConfig) (RateLimitResult, error)
}
