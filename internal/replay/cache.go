// Package replay provides the TTL'd key-value cache backing signature
// replay prevention and the sliding per-IP attempt counter.
package replay

import (
	"context"
	"time"
)

// Cache supports atomic conditional writes with expiry. Both operations
// must be single atomic steps: two concurrent SetNX calls for the same
// key have exactly one winner.
type Cache interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
