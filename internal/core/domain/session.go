package domain

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionRecord is the persisted state of a single session lineage.
type SessionRecord struct {
	Handle           string
	UserID           string
	UserDataInJWT    json.RawMessage
	SessionData      json.RawMessage
	RefreshTokenHash string
	AntiCsrfToken    string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// IsExpired reports whether the lineage has outlived its refresh window.
func (r SessionRecord) IsExpired(at time.Time) bool {
	return !r.ExpiresAt.After(at)
}

// Info returns the identity portion of the record.
func (r SessionRecord) Info() SessionInfo {
	return SessionInfo{
		Handle:        r.Handle,
		UserID:        r.UserID,
		UserDataInJWT: r.UserDataInJWT,
	}
}

// RefreshRotation describes a compare-and-swap of the lineage marker.
// Stores apply it only when the current hash equals ExpectedHash.
type RefreshRotation struct {
	Handle        string
	ExpectedHash  string
	NewHash       string
	AntiCsrfToken string
	ExpiresAt     time.Time
}

// SessionInfo is the verified identity exposed to request handlers.
type SessionInfo struct {
	Handle        string          `json:"handle"`
	UserID        string          `json:"user_id"`
	UserDataInJWT json.RawMessage `json:"jwt_payload"`
}

// TokenInfo carries a token together with the cookie attributes it is attached with.
type TokenInfo struct {
	Token  string
	Expiry time.Time
	Domain string
	Path   string
	Secure bool
}

// TokenBundle is the full set of tokens issued on create or refresh.
type TokenBundle struct {
	Session        SessionInfo
	AccessToken    TokenInfo
	RefreshToken   TokenInfo
	IDRefreshToken TokenInfo
	// AntiCsrfToken is empty when anti-CSRF protection is disabled.
	AntiCsrfToken string
}

// NewSessionHandle allocates a lexicographically sortable session handle.
func NewSessionHandle(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate session handle: %w", err)
	}
	return id.String(), nil
}

// NormalizeJSON returns an empty object for missing payloads and rejects invalid JSON.
func NormalizeJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid json")
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}
