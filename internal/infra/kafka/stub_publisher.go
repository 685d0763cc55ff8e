package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
	"github.com/arklim/session-service/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(log *zap.Logger) *StubPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &StubPublisher{logger: log}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

// PublishSessionCreated logs session.created events.
func (p *StubPublisher) PublishSessionCreated(_ context.Context, event domain.SessionCreatedEvent) error {
	p.logEvent(EventSessionCreated, event.UserID, event.CreatedAt,
		zap.String("session_handle", logger.MaskString(event.SessionHandle)),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

// PublishSessionRefreshed logs session.refreshed events.
func (p *StubPublisher) PublishSessionRefreshed(_ context.Context, event domain.SessionRefreshedEvent) error {
	p.logEvent(EventSessionRefreshed, event.UserID, event.RefreshedAt,
		zap.String("session_handle", logger.MaskString(event.SessionHandle)),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

// PublishSessionRevoked logs session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	p.logEvent(EventSessionRevoked, event.UserID, event.RevokedAt,
		zap.Int("sessions", len(event.SessionHandles)),
		zap.String("reason", event.Reason),
	)
	return nil
}

// PublishTokenTheftDetected logs session.theft_detected events.
func (p *StubPublisher) PublishTokenTheftDetected(_ context.Context, event domain.TokenTheftDetectedEvent) error {
	p.logEvent(EventTokenTheftDetected, event.UserID, event.DetectedAt,
		zap.String("session_handle", logger.MaskString(event.SessionHandle)),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
