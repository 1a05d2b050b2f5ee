package port

import (
	"context"
	"time"
)

// RateLimitStore keeps one fixed-window counter per key.
type RateLimitStore interface {
	// Increment atomically bumps the counter for key within the window starting at windowStart.
	// A counter left over from an older window is reset before incrementing.
	// It returns the post-increment count.
	Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)
}
