package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	EventSessionRevoked       = "session.revoked"
	EventRefreshReuseDetected = "refresh.reuse_detected"
	EventPasswordChanged      = "user.password.changed"
)

// EventPublisher implements port.EventPublisher and port.AuditWriter using Kafka.
type EventPublisher struct {
	producer   *Producer
	logger     *zap.Logger
	appCfg     config.AppSettings
	auditTopic string
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, auditTopic string, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, auditTopic: auditTopic, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	topic := p.producer.TopicName(eventType)

	bytes, err := json.Marshal(eventEnvelope{
		EventID:   id,
		EventType: topic,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(bytes),
	}
	if userID != "" {
		message.Key = sarama.StringEncoder(userID)
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSessionRevoked publishes session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		SessionID     string         `json:"session_id"`
		UserID        string         `json:"user_id"`
		RevokedAt     time.Time      `json:"revoked_at"`
		Reason        string         `json:"reason"`
		TokensRevoked int            `json:"tokens_revoked"`
		IPAddress     *string        `json:"ip_address,omitempty"`
		Metadata      map[string]any `json:"metadata,omitempty"`
	}{
		SessionID:     event.SessionID,
		UserID:        event.UserID,
		RevokedAt:     event.RevokedAt.UTC(),
		Reason:        event.Reason,
		TokensRevoked: event.TokensRevoked,
		IPAddress:     event.IPAddress,
		Metadata:      event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventSessionRevoked, event.UserID, event.RevokedAt, payload)
}

// PublishRefreshReuseDetected publishes refresh.reuse_detected events.
func (p *EventPublisher) PublishRefreshReuseDetected(ctx context.Context, event domain.RefreshReuseDetectedEvent) error {
	payload := struct {
		UserID         string         `json:"user_id"`
		SessionID      string         `json:"session_id"`
		FamilyID       string         `json:"family_id"`
		TokenID        string         `json:"token_id"`
		TokensRevoked  int            `json:"tokens_revoked"`
		SessionRevoked bool           `json:"session_revoked"`
		DetectedAt     time.Time      `json:"detected_at"`
		IPAddress      *string        `json:"ip_address,omitempty"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}{
		UserID:         event.UserID,
		SessionID:      event.SessionID,
		FamilyID:       event.FamilyID,
		TokenID:        event.TokenID,
		TokensRevoked:  event.TokensRevoked,
		SessionRevoked: event.SessionRevoked,
		DetectedAt:     event.DetectedAt.UTC(),
		IPAddress:      event.IPAddress,
		Metadata:       event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventRefreshReuseDetected, event.UserID, event.DetectedAt, payload)
}

// PublishPasswordChanged publishes user.password.changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		UserID          string         `json:"user_id"`
		ChangedAt       time.Time      `json:"changed_at"`
		ChangedBy       string         `json:"changed_by"`
		SessionsRevoked int            `json:"sessions_revoked"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		UserID:          event.UserID,
		ChangedAt:       event.ChangedAt.UTC(),
		ChangedBy:       event.ChangedBy,
		SessionsRevoked: event.SessionsRevoked,
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventPasswordChanged, event.UserID, event.ChangedAt, payload)
}

// WriteAudit forwards an audit entry to the audit topic.
func (p *EventPublisher) WriteAudit(ctx context.Context, entry domain.AuditLog) error {
	userID := ""
	if entry.UserID != nil {
		userID = *entry.UserID
	}

	payload := struct {
		ID         string         `json:"id"`
		UserID     *string        `json:"user_id,omitempty"`
		Action     string         `json:"action"`
		AuthMethod *string        `json:"auth_method,omitempty"`
		IP         *string        `json:"ip,omitempty"`
		UserAgent  *string        `json:"user_agent,omitempty"`
		Metadata   map[string]any `json:"metadata,omitempty"`
		At         time.Time      `json:"at"`
	}{
		ID:         entry.ID,
		UserID:     entry.UserID,
		Action:     string(entry.Action),
		AuthMethod: entry.AuthMethod,
		IP:         entry.IP,
		UserAgent:  entry.UserAgent,
		Metadata:   entry.Metadata,
		At:         entry.At.UTC(),
	}

	return p.publish(ctx, entry.ID, p.auditTopic, userID, entry.At, payload)
}

var (
	_ port.EventPublisher = (*EventPublisher)(nil)
	_ port.AuditWriter    = (*EventPublisher)(nil)
)
