// Package inbound defines the inbound port interfaces.
// Inbound adapters (HTTP) implement these so cmd can run them uniformly.
package inbound

import (
	"context"
)

// Server is a long-running inbound listener.
type Server interface {
	// Start serves until ctx is cancelled or the listener fails.
	// Returns nil on graceful shutdown.
	Start(ctx context.Context) error

	// Close shuts the listener down.
	Close() error
}
