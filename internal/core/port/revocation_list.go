package port

import (
	"context"
	"time"
)

// RevocationList remembers revoked session handles until their last access token has
// expired, so GetSession can reject stateless tokens of a session that is already gone.
type RevocationList interface {
	// Revoke flags every handle with reason for ttl. Empty handles are skipped.
	Revoke(ctx context.Context, handles []string, reason string, ttl time.Duration) error
	Lookup(ctx context.Context, handle string) (reason string, revoked bool, err error)
}
