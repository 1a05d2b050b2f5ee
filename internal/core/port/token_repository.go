package port

import (
	"context"
	"time"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
)

// RefreshTokenRepository manages refresh token records.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	// GetByHashForUpdate loads the token and, inside a transaction, locks its row until commit.
	GetByHashForUpdate(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// MarkReplaced retires a live token in favour of its successor.
	// A token that is no longer live yields repository.ErrConflict.
	MarkReplaced(ctx context.Context, tokenID string, successorID string, at time.Time) error
	Revoke(ctx context.Context, tokenID string, reason string, at time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID string, reason string, at time.Time) (int, error)
	RevokeBySession(ctx context.Context, sessionID string, reason string, at time.Time) (int, error)
	RevokeAllForUser(ctx context.Context, userID string, exceptSessionID string, reason string, at time.Time) (int, error)
	SweepExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// TxRepositories exposes the repositories bound to a single transaction.
type TxRepositories interface {
	Sessions() SessionRepository
	RefreshTokens() RefreshTokenRepository
}

// Transactor runs fn inside one store transaction, committing when fn returns nil
// and rolling back on error, panic or context cancellation.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}
