// Package outbound defines the outbound port interfaces of the governance core.
// Adapters under internal/adapter/outbound implement them.
package outbound

import (
	"context"
	"time"
)

// KVStore is a small key-value store with per-key TTL.
//
// Implementations must make CompareAndSwap atomic: it is the primitive the
// executor uses to claim an idempotency key so two concurrent calls never
// both run a plan.
type KVStore interface {
	// Get returns the value and true, or false if the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// SetWithTTL stores value under key, replacing any existing value.
	// A ttl <= 0 means no expiry.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// CompareAndSwap replaces the value under key with next only if the
	// current value equals expected. A nil expected means "only if absent";
	// a nil next deletes the key. Returns true if the swap happened.
	CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
