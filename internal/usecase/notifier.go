package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/logger"
)

// LoggingNotifier stands in for email and SMS delivery by logging a masked record of each code.
type LoggingNotifier struct {
	logger *zap.Logger
}

// NewLoggingNotifier constructs a LoggingNotifier.
func NewLoggingNotifier(logger *zap.Logger) *LoggingNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingNotifier{logger: logger}
}

// SendCode implements port.Notifier. The code itself is never logged.
func (n *LoggingNotifier) SendCode(ctx context.Context, delivery port.CodeDelivery) error {
	destination := logger.MaskEmail(delivery.Destination)
	if delivery.Channel == "sms" {
		destination = logger.MaskPhone(delivery.Destination)
	}

	logger.Enrich(ctx, n.logger).Info("one-time code dispatched",
		zap.String("channel", delivery.Channel),
		zap.String("destination", destination),
		zap.String("purpose", string(delivery.Purpose)),
		zap.Time("expires_at", delivery.ExpiresAt),
	)
	return nil
}

var _ port.Notifier = (*LoggingNotifier)(nil)
