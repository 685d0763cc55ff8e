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

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
	"github.com/arklim/session-service/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types; the producer prepends the configured topic prefix.
const (
	EventSessionCreated     = "session.created"
	EventSessionRefreshed   = "session.refreshed"
	EventSessionRevoked     = "session.revoked"
	EventTokenTheftDetected = "session.theft_detected"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
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

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, key, userID string, ts time.Time, payload any) error {
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

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	return p.producer.Send(ctx, message)
}

// PublishSessionCreated publishes session.created events.
func (p *EventPublisher) PublishSessionCreated(ctx context.Context, event domain.SessionCreatedEvent) error {
	payload := struct {
		SessionHandle string    `json:"session_handle"`
		UserID        string    `json:"user_id"`
		CreatedAt     time.Time `json:"created_at"`
		ExpiresAt     time.Time `json:"expires_at"`
	}{
		SessionHandle: event.SessionHandle,
		UserID:        event.UserID,
		CreatedAt:     event.CreatedAt.UTC(),
		ExpiresAt:     event.ExpiresAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventSessionCreated, event.SessionHandle, event.UserID, event.CreatedAt, payload)
}

// PublishSessionRefreshed publishes session.refreshed events.
func (p *EventPublisher) PublishSessionRefreshed(ctx context.Context, event domain.SessionRefreshedEvent) error {
	payload := struct {
		SessionHandle string    `json:"session_handle"`
		UserID        string    `json:"user_id"`
		RefreshedAt   time.Time `json:"refreshed_at"`
		ExpiresAt     time.Time `json:"expires_at"`
	}{
		SessionHandle: event.SessionHandle,
		UserID:        event.UserID,
		RefreshedAt:   event.RefreshedAt.UTC(),
		ExpiresAt:     event.ExpiresAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventSessionRefreshed, event.SessionHandle, event.UserID, event.RefreshedAt, payload)
}

// PublishSessionRevoked publishes session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		SessionHandles []string  `json:"session_handles"`
		UserID         string    `json:"user_id,omitempty"`
		Reason         string    `json:"reason"`
		RevokedAt      time.Time `json:"revoked_at"`
	}{
		SessionHandles: event.SessionHandles,
		UserID:         event.UserID,
		Reason:         event.Reason,
		RevokedAt:      event.RevokedAt.UTC(),
	}

	key := event.UserID
	if len(event.SessionHandles) == 1 {
		key = event.SessionHandles[0]
	}

	return p.publish(ctx, event.EventID, EventSessionRevoked, key, event.UserID, event.RevokedAt, payload)
}

// PublishTokenTheftDetected publishes session.theft_detected events.
func (p *EventPublisher) PublishTokenTheftDetected(ctx context.Context, event domain.TokenTheftDetectedEvent) error {
	payload := struct {
		SessionHandle string    `json:"session_handle"`
		UserID        string    `json:"user_id"`
		DetectedAt    time.Time `json:"detected_at"`
	}{
		SessionHandle: event.SessionHandle,
		UserID:        event.UserID,
		DetectedAt:    event.DetectedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventTokenTheftDetected, event.SessionHandle, event.UserID, event.DetectedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
