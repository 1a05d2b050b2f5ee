package port

import (
	"context"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
	PublishRefreshReuseDetected(ctx context.Context, event domain.RefreshReuseDetectedEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
}

// AuditWriter persists or forwards a single audit entry.
type AuditWriter interface {
	WriteAudit(ctx context.Context, entry domain.AuditLog) error
}
