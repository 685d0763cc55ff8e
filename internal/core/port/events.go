package port

import (
	"context"

	"github.com/arklim/session-service/internal/core/domain"
)

// EventPublisher publishes session lifecycle events to the message bus.
type EventPublisher interface {
	PublishSessionCreated(ctx context.Context, event domain.SessionCreatedEvent) error
	PublishSessionRefreshed(ctx context.Context, event domain.SessionRefreshedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
	PublishTokenTheftDetected(ctx context.Context, event domain.TokenTheftDetectedEvent) error
}
