package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
)

// FixedWindowConfig defines configuration for the fixed window counters.
type FixedWindowConfig struct {
	KeyPrefix string
	// Grace keeps a finished window around briefly so late readers still see its count.
	Grace time.Duration
}

// RateLimitRepository keeps one counter per key and window in Redis.
type RateLimitRepository struct {
	client redis.UniversalClient
	cfg    FixedWindowConfig
}

// NewRateLimitRepository constructs a repository using the provided Redis client and config.
func NewRateLimitRepository(client redis.UniversalClient, cfg FixedWindowConfig) *RateLimitRepository {
	return &RateLimitRepository{client: client, cfg: cfg}
}

// Increment bumps the window counter and pins its expiry to the end of the window.
// Each window has its own key, so an old window never leaks into a new one.
func (r *RateLimitRepository) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	redisKey := r.key(key, windowStart)
	expiresAt := windowStart.Add(window + r.cfg.Grace)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpireAt(ctx, redisKey, expiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr window: %w", err)
	}

	return incr.Val(), nil
}

func (r *RateLimitRepository) key(identifier string, windowStart time.Time) string {
	if r.cfg.KeyPrefix == "" {
		return fmt.Sprintf("%s:%d", identifier, windowStart.UnixMilli())
	}
	return fmt.Sprintf("%s:%s:%d", r.cfg.KeyPrefix, identifier, windowStart.UnixMilli())
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
