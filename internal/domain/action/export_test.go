package action

import "context"

// ClearIdempotencyCache drops every cached result and claim.
func (e *Executor) ClearIdempotencyCache(ctx context.Context) error {
	return e.cache.clear(ctx)
}
