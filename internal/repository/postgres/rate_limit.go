package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
)

// RateLimitRepository keeps fixed-window buckets in a single row per key.
type RateLimitRepository struct {
	exec pgExecutor
}

// NewRateLimitRepository constructs the repository.
func NewRateLimitRepository(exec pgExecutor) *RateLimitRepository {
	return &RateLimitRepository{exec: exec}
}

// Increment upserts the bucket in one statement. A bucket from an older window restarts at one.
func (r *RateLimitRepository) Increment(ctx context.Context, key string, windowStart time.Time, _ time.Duration) (int64, error) {
	const stmt = `
        INSERT INTO auth.rate_limit_buckets (key, window_start, count)
        VALUES ($1, $2, 1)
        ON CONFLICT (key) DO UPDATE
           SET count = CASE
                   WHEN auth.rate_limit_buckets.window_start >= EXCLUDED.window_start
                   THEN auth.rate_limit_buckets.count + 1
                   ELSE 1
               END,
               window_start = GREATEST(auth.rate_limit_buckets.window_start, EXCLUDED.window_start)
        RETURNING count
    `

	var count int64
	if err := r.exec.QueryRow(ctx, stmt, key, windowStart.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment rate limit bucket: %w", err)
	}

	return count, nil
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
