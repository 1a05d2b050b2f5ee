package port

import (
	"context"
	"time"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
)

// CodeDelivery captures what a notifier needs to hand a one-time code to its recipient.
type CodeDelivery struct {
	Channel     string
	Destination string
	Purpose     domain.CodePurpose
	Code        string
	ExpiresAt   time.Time
}

// Notifier delivers one-time codes out of band.
type Notifier interface {
	SendCode(ctx context.Context, delivery CodeDelivery) error
}
