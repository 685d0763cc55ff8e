package port

import (
	"context"

	"github.com/arklim/session-service/internal/core/domain"
)

// HandshakeSource fetches the process-wide handshake parameters.
type HandshakeSource interface {
	FetchHandshake(ctx context.Context) (domain.HandshakeInfo, error)
}
