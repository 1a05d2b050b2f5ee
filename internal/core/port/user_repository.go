package port

import (
	"context"
	"time"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
)

// UserStore exposes the user fields the auth flows read and write.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmailOrUsername(ctx context.Context, identifier string) (*domain.User, error)
	UpdateEmailVerified(ctx context.Context, id string, verified bool) error
	UpdatePasswordHash(ctx context.Context, id string, passwordHash string, changedAt time.Time) error
}
