package handlers

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-service/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// CreateSessionRequest starts a session for an already authenticated user.
type CreateSessionRequest struct {
	UserID      string          `json:"user_id" binding:"required"`
	JWTPayload  json.RawMessage `json:"jwt_payload"`
	SessionData json.RawMessage `json:"session_data"`
}

// SessionResponse describes the verified session identity.
type SessionResponse struct {
	Handle     string          `json:"handle"`
	UserID     string          `json:"user_id"`
	JWTPayload json.RawMessage `json:"jwt_payload"`
}

// SessionDataRequest replaces the server-side session data.
type SessionDataRequest struct {
	Data json.RawMessage `json:"data" binding:"required"`
}

// SessionDataResponse carries the server-side session data.
type SessionDataResponse struct {
	Handle string          `json:"handle"`
	Data   json.RawMessage `json:"data"`
}

// SessionHandlesResponse lists the live sessions of a user.
type SessionHandlesResponse struct {
	UserID  string   `json:"user_id"`
	Handles []string `json:"handles"`
	Total   int      `json:"total"`
}

// RevokeUserSessionsResponse reports how many sessions were revoked.
type RevokeUserSessionsResponse struct {
	Revoked int `json:"revoked"`
}

// RevokeSessionResponse reports whether a live session was revoked.
type RevokeSessionResponse struct {
	Revoked bool `json:"revoked"`
}

// HandshakeResponse describes the cached handshake parameters.
type HandshakeResponse struct {
	CookieDomain         string `json:"cookie_domain"`
	CookieSecure         bool   `json:"cookie_secure"`
	AccessTokenPath      string `json:"access_token_path"`
	RefreshTokenPath     string `json:"refresh_token_path"`
	AntiCsrfEnabled      bool   `json:"anti_csrf_enabled"`
	AccessTokenValidity  string `json:"access_token_validity"`
	RefreshTokenValidity string `json:"refresh_token_validity"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// JWKSKey describes an individual JSON Web Key in the JWKS response.
type JWKSKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSResponse represents the JSON Web Key Set payload.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

func newSessionResponse(session *usecase.Session) SessionResponse {
	return SessionResponse{
		Handle:     session.Handle(),
		UserID:     session.UserID(),
		JWTPayload: session.JWTPayload(),
	}
}
