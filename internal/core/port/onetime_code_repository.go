package port

import (
	"context"
	"time"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
)

// OneTimeCodeRepository stores hashed one-time codes for a subject type.
type OneTimeCodeRepository[S domain.CodeSubject] interface {
	Create(ctx context.Context, code domain.OneTimeCode[S]) error
	// LatestUnconsumed returns the newest code for subject and purpose that has not been consumed,
	// whether or not it has expired.
	LatestUnconsumed(ctx context.Context, subject S, purpose domain.CodePurpose) (*domain.OneTimeCode[S], error)
	// IncrementAttempts bumps the attempt counter while it is below maxAttempts and returns the new value.
	// A counter already at the ceiling yields repository.ErrConflict.
	IncrementAttempts(ctx context.Context, codeID string, maxAttempts int) (int, error)
	// Consume marks an unconsumed code as used; a consumed code yields repository.ErrConflict.
	Consume(ctx context.Context, codeID string, at time.Time) error
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// TwoFactorMethodRepository reads enrolled second factors.
type TwoFactorMethodRepository interface {
	ListActiveByUser(ctx context.Context, userID string) ([]domain.TwoFactorMethod, error)
}
