// Package ratelimit gates outbound registry calls with a sliding window per
// provider so bulk jobs cannot trip upstream quotas.
package ratelimit

import (
	"context"
	"time"
)

// Result reports a single admission decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// Store tracks request timestamps per key over a sliding window.
type Store interface {
	// Allow records one request against key if the window has room.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)

	// Reset clears the counter for a key.
	Reset(ctx context.Context, key string) error

	// CurrentCount returns the live request count for a key.
	CurrentCount(ctx context.Context, key string) (int, error)
}
