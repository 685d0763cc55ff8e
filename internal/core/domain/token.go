package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrTokenExpired indicates the token was well formed and correctly signed but is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid indicates the token is malformed, mis-signed, or of the wrong kind.
	ErrTokenInvalid = errors.New("token invalid")
)

// TokenKind distinguishes the signed token types.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenClaims is the codec-neutral view of a signed session token.
type TokenClaims struct {
	Kind          TokenKind
	SessionHandle string
	UserID        string
	UserData      json.RawMessage
	AntiCsrfToken string
	Nonce         string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	// KeyID is populated on verification with the kid the token was signed with.
	KeyID string
}
