package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	base := []zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}
	p.logger.Info("stub event published", append(base, fields...)...)
}

// PublishSessionRevoked logs session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	p.logEvent(EventSessionRevoked, event.UserID, event.RevokedAt,
		zap.String("session_id", event.SessionID),
		zap.String("reason", event.Reason),
		zap.Int("tokens_revoked", event.TokensRevoked),
	)
	return nil
}

// PublishRefreshReuseDetected logs refresh.reuse_detected events.
func (p *StubPublisher) PublishRefreshReuseDetected(_ context.Context, event domain.RefreshReuseDetectedEvent) error {
	p.logEvent(EventRefreshReuseDetected, event.UserID, event.DetectedAt,
		zap.String("session_id", event.SessionID),
		zap.String("family_id", event.FamilyID),
		zap.Int("tokens_revoked", event.TokensRevoked),
		zap.Bool("session_revoked", event.SessionRevoked),
	)
	return nil
}

// PublishPasswordChanged logs user.password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.logEvent(EventPasswordChanged, event.UserID, event.ChangedAt,
		zap.String("changed_by", event.ChangedBy),
		zap.Int("sessions_revoked", event.SessionsRevoked),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
