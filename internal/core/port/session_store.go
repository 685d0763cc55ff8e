package port

import (
	"context"
	"encoding/json"

	"github.com/arklim/session-service/internal/core/domain"
)

// SessionStore persists session records keyed by session handle.
//
// Absence is reported with repository.ErrNotFound. RotateRefreshToken is the
// compare-and-swap primitive: it must fail with repository.ErrRefreshTokenMismatch
// when the stored hash differs from rotation.ExpectedHash, atomically with
// respect to every other writer of the same handle.
type SessionStore interface {
	Create(ctx context.Context, record domain.SessionRecord) error
	Get(ctx context.Context, handle string) (*domain.SessionRecord, error)
	UpdateSessionData(ctx context.Context, handle string, data json.RawMessage) error
	RotateRefreshToken(ctx context.Context, rotation domain.RefreshRotation) error
	Delete(ctx context.Context, handle string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	ListHandlesForUser(ctx context.Context, userID string) ([]string, error)
}
