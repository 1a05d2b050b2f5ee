package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/repository"
)

// RateLimitRule is a limit per fixed window.
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether the rule throttles anything.
func (r RateLimitRule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// RateLimiter implements fixed-window throttling over a shared counter store.
type RateLimiter struct {
	store  port.RateLimitStore
	retry  repository.RetryPolicy
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter constructs a RateLimiter.
func NewRateLimiter(store port.RateLimitStore, retry repository.RetryPolicy, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := &RateLimiter{
		store:  store,
		retry:  retry,
		logger: logger,
	}
	limiter.now = func() time.Time { return time.Now().UTC() }
	return limiter
}

// WithClock overrides the limiter clock for deterministic tests.
func (l *RateLimiter) WithClock(clock func() time.Time) {
	if clock != nil {
		l.now = clock
	}
}

// CheckAndIncrement counts one call against key and reports whether it fits in the current window.
func (l *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.RateLimitDecision{}, fmt.Errorf("%w: rate limit key is required", ErrValidation)
	}
	if limit <= 0 || window <= 0 {
		return domain.RateLimitDecision{Allowed: true, Key: key, Limit: limit}, nil
	}

	now := l.now()
	windowStart := domain.WindowStart(now, window)
	resetAt := windowStart.Add(window)

	count, err := repository.Call(ctx, l.retry, func(ctx context.Context) (int64, error) {
		return l.store.Increment(ctx, key, windowStart, window)
	})
	if err != nil {
		return domain.RateLimitDecision{}, storeFailure("increment rate limit", err)
	}

	decision := domain.RateLimitDecision{
		Allowed: count <= int64(limit),
		Key:     key,
		Count:   count,
		Limit:   limit,
		ResetAt: resetAt,
	}
	if !decision.Allowed {
		decision.RetryAfter = resetAt.Sub(now)
	}

	return decision, nil
}

// Enforce applies rule to key and converts a rejection into *RateLimitedError.
func (l *RateLimiter) Enforce(ctx context.Context, key string, rule RateLimitRule) (domain.RateLimitDecision, error) {
	if !rule.Enabled() {
		return domain.RateLimitDecision{Allowed: true, Key: key}, nil
	}

	decision, err := l.CheckAndIncrement(ctx, key, rule.Limit, rule.Window)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, &RateLimitedError{Key: key, RetryAfter: decision.RetryAfter}
	}
	return decision, nil
}

// Rate limit key builders.
func loginIPKey(ip string) string       { return "login:" + strings.TrimSpace(ip) }
func loginEmailKey(email string) string { return "login:" + domain.NormalizeEmail(email) }
func refreshIPKey(ip string) string     { return "refresh:" + strings.TrimSpace(ip) }
func codeKey(purpose domain.CodePurpose, subjectKey string) string {
	return string(purpose) + ":" + subjectKey
}
