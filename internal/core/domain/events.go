package domain

import "time"

// SessionCreatedEvent represents the payload for session.created messages.
type SessionCreatedEvent struct {
	EventID       string
	SessionHandle string
	UserID        string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// SessionRefreshedEvent represents the payload for session.refreshed messages.
type SessionRefreshedEvent struct {
	EventID       string
	SessionHandle string
	UserID        string
	RefreshedAt   time.Time
	ExpiresAt     time.Time
}

// SessionRevokedEvent represents the payload for session.revoked messages.
type SessionRevokedEvent struct {
	EventID        string
	SessionHandles []string
	UserID         string
	Reason         string
	RevokedAt      time.Time
}

// TokenTheftDetectedEvent is emitted when a rotated refresh token is replayed.
type TokenTheftDetectedEvent struct {
	EventID       string
	SessionHandle string
	UserID        string
	DetectedAt    time.Time
}

// Revocation reasons carried on SessionRevokedEvent.
const (
	RevokeReasonSignOut    = "sign_out"
	RevokeReasonHandle     = "handle_revoked"
	RevokeReasonAllForUser = "user_revoked"
	RevokeReasonTokenTheft = "token_theft"
)
