// Package cache stores discovered pool addresses between runs and remembers
// which alerts were already sent.
package cache

import (
	"context"
	"time"
)

// Store is implemented by Redis and Memory.
type Store interface {
	// GetJSON decodes the value at key into dst. It reports false when the
	// key is absent or expired.
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error

	// AlreadySent returns true if key was recorded and has not expired.
	AlreadySent(ctx context.Context, key string) bool
	// Record marks key as sent. A zero ttl never expires.
	Record(ctx context.Context, key string, ttl time.Duration)
	// Clear removes key so the alert can fire again.
	Clear(ctx context.Context, key string)
}
