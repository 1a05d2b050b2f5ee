package port

import (
	"context"
	"time"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	// Touch bumps last_seen_at on a live session; revoked sessions yield repository.ErrConflict.
	Touch(ctx context.Context, sessionID string, at time.Time) error
	// Revoke reports whether this call moved the session into the revoked state.
	Revoke(ctx context.Context, sessionID string, reason string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, exceptSessionID string, reason string, at time.Time) ([]string, error)
	ListActiveByUser(ctx context.Context, userID string) ([]domain.Session, error)
	// ListStale returns live sessions idle since idleBefore or created before createdBefore.
	ListStale(ctx context.Context, idleBefore, createdBefore time.Time, limit int) ([]domain.Session, error)
}
