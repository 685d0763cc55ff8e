package port

import (
	"time"

	"github.com/arklim/session-service/internal/core/domain"
)

// TokenCodec signs and verifies session tokens.
type TokenCodec interface {
	// Sign issues a token valid for the supplied duration and returns its expiry.
	Sign(claims domain.TokenClaims, validity time.Duration) (string, time.Time, error)
	// Verify returns domain.ErrTokenExpired or domain.ErrTokenInvalid (wrapped) on rejection.
	Verify(kind domain.TokenKind, token string) (*domain.TokenClaims, error)
	// ActiveKeyID is the kid new tokens are signed with.
	ActiveKeyID() string
}

// TokenHasher derives the stored lineage marker from a refresh token.
type TokenHasher interface {
	Hash(token string) string
}
