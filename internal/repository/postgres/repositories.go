package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
)

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Users            *UserRepository
	Sessions         *SessionRepository
	RefreshTokens    *RefreshTokenRepository
	OtpCodes         *CodeRepository[domain.EmailSubject]
	TwoFactorCodes   *CodeRepository[domain.TwoFactorSubject]
	TwoFactorMethods *TwoFactorMethodRepository
	RateLimits       *RateLimitRepository
	Audit            *AuditRepository
	Transactor       *Transactor
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Users:            NewUserRepository(pool),
		Sessions:         NewSessionRepository(pool),
		RefreshTokens:    NewRefreshTokenRepository(pool),
		OtpCodes:         NewOtpCodeRepository(pool),
		TwoFactorCodes:   NewTwoFactorCodeRepository(pool),
		TwoFactorMethods: NewTwoFactorMethodRepository(pool),
		RateLimits:       NewRateLimitRepository(pool),
		Audit:            NewAuditRepository(pool),
		Transactor:       NewTransactor(pool),
	}
}
