package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/telemetry"
)

// SweeperSettings controls the cadence and batch size of expiry sweeps.
type SweeperSettings struct {
	Interval  time.Duration
	BatchSize int
}

// ExpirySweeper periodically revokes expired refresh tokens and timed-out sessions
// and purges expired one-time codes.
type ExpirySweeper struct {
	rotator        *RefreshRotator
	sessions       *SessionManager
	otp            *OneTimeCodeEngine[domain.EmailSubject]
	twoFactorCodes *OneTimeCodeEngine[domain.TwoFactorSubject]
	metrics        *telemetry.Metrics
	settings       SweeperSettings
	logger         *zap.Logger
}

// NewExpirySweeper constructs an ExpirySweeper. Nil collaborators are skipped.
func NewExpirySweeper(
	rotator *RefreshRotator,
	sessions *SessionManager,
	otp *OneTimeCodeEngine[domain.EmailSubject],
	twoFactorCodes *OneTimeCodeEngine[domain.TwoFactorSubject],
	metrics *telemetry.Metrics,
	settings SweeperSettings,
	logger *zap.Logger,
) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Interval <= 0 {
		settings.Interval = 5 * time.Minute
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 500
	}
	return &ExpirySweeper{
		rotator:        rotator,
		sessions:       sessions,
		otp:            otp,
		twoFactorCodes: twoFactorCodes,
		metrics:        metrics,
		settings:       settings,
		logger:         logger,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.settings.Interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.settings.Interval))
	for {
		s.SweepOnce(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single pass. Failures are logged and retried on the next tick.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (tokens, sessions, codes int) {
	limit := s.settings.BatchSize

	if s.rotator != nil {
		count, err := s.rotator.SweepExpired(ctx, limit)
		if err != nil {
			s.logger.Warn("sweep refresh tokens failed", zap.Error(err))
		}
		tokens = count
	}

	if s.sessions != nil {
		count, err := s.sessions.SweepExpired(ctx, limit)
		if err != nil {
			s.logger.Warn("sweep sessions failed", zap.Error(err))
		}
		sessions = count
	}

	if s.otp != nil {
		count, err := s.otp.PurgeExpired(ctx, limit)
		if err != nil {
			s.logger.Warn("purge otp codes failed", zap.Error(err))
		}
		codes += count
	}
	if s.twoFactorCodes != nil {
		count, err := s.twoFactorCodes.PurgeExpired(ctx, limit)
		if err != nil {
			s.logger.Warn("purge two-factor codes failed", zap.Error(err))
		}
		codes += count
	}

	s.metrics.Swept(tokens, sessions)
	if tokens > 0 || sessions > 0 || codes > 0 {
		s.logger.Info("expiry sweep completed",
			zap.Int("tokens_revoked", tokens),
			zap.Int("sessions_revoked", sessions),
			zap.Int("codes_purged", codes),
		)
	}
	return tokens, sessions, codes
}
