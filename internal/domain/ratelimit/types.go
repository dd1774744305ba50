// Package ratelimit provides the submission rate-limit domain types.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// Rate is the number of allowed events in the period.
	Rate int

	// Burst is the maximum number of events that can occur at once.
	// Zero means Burst = Rate.
	Burst int

	// Period is the time window for the rate limit.
	Period time.Duration
}

// PerMinute returns a config allowing rate submissions per minute.
func PerMinute(rate int) RateLimitConfig {
	return RateLimitConfig{Rate: rate, Burst: rate, Period: time.Minute}
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed bool

	// Remaining is the number of requests still allowed right now.
	Remaining int

	// RetryAfter is the duration until the next request will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ResetAfter is the duration until the limit is fully replenished.
	ResetAfter time.Duration
}

// KeyType identifies what a rate limit key counts.
type KeyType string

const (
	// KeyTypeTenant limits all submissions of one clinic.
	KeyTypeTenant KeyType = "tenant"

	// KeyTypeUser limits one user inside one tenant.
	KeyTypeUser KeyType = "user"

	// KeyTypeClient limits one remote address on the admin API.
	KeyTypeClient KeyType = "client"
)

const keyPrefix = "ratelimit"

// FormatKey returns a fixed-length rate limit key.
// Format: "ratelimit:{type}:{xxhash of parts}". Parts are joined with a NUL
// separator so ("ab","c") and ("a","bc") never collide.
func FormatKey(keyType KeyType, parts ...string) string {
	d := xxhash.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = d.Write([]byte{0})
		}
		_, _ = d.WriteString(p)
	}
	return fmt.Sprintf("%s:%s:%016x", keyPrefix, keyType, d.Sum64())
}

// TenantKey is the key counting every submission of a tenant.
func TenantKey(tenantID string) string {
	return FormatKey(KeyTypeTenant, tenantID)
}

// UserKey is the key counting one user's submissions in a tenant.
func UserKey(tenantID, userID string) string {
	return FormatKey(KeyTypeUser, tenantID, userID)
}

// ClientKey is the key counting admin API requests from one remote address.
func ClientKey(addr string) string {
	return FormatKey(KeyTypeClient, addr)
}
