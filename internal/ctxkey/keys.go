// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by the admin middleware to store a logger carrying request_id.
type LoggerKey struct{}

// RequestIDKey is the context key type for the per-call request id.
// The executor stores its request_id here so tool handlers can correlate logs.
type RequestIDKey struct{}

// TenantIDKey is the context key type for the tenant a plan runs for.
// Tool handlers use it to scope their queries.
type TenantIDKey struct{}
