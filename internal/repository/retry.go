package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how store calls are retried on transient failures.
// The zero value performs a single attempt without a per-attempt timeout.
type RetryPolicy struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy mirrors the store section defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Timeout: 2 * time.Second, MaxAttempts: 3, Backoff: 50 * time.Millisecond}
}

// Do runs fn until it succeeds, fails permanently or the attempt budget is spent.
// Transient failures left after the last attempt are wrapped with ErrUnavailable.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.Backoff
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))

	var last error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		last = fn(attemptCtx)
		if last == nil {
			return nil
		}
		if ctx.Err() == nil && IsTransient(last) {
			return retry.RetryableError(last)
		}
		return last
	})
	if err == nil {
		return nil
	}
	if last != nil && ctx.Err() == nil && IsTransient(last) {
		return fmt.Errorf("%w: %w", ErrUnavailable, last)
	}
	return err
}

// Call is Do for functions that also produce a value.
func Call[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		value, err := fn(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

// IsTransient classifies errors worth retrying: lost connections, serialization failures,
// deadlocks, admin shutdowns and timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.ErrPoolTimeout) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "57P02", "57P03":
			return true
		}
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
