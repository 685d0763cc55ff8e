package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
)

// Session is the per-request view of a verified session. Operations that find the session gone
// clear the token cookies on the bound response.
type Session struct {
	info     domain.SessionInfo
	service  *SessionService
	response port.ResponseCarrier
}

func newSession(service *SessionService, info domain.SessionInfo, response port.ResponseCarrier) *Session {
	return &Session{info: info, service: service, response: response}
}

// Handle returns the session handle.
func (s *Session) Handle() string {
	return s.info.Handle
}

// UserID returns the owner of the session.
func (s *Session) UserID() string {
	return s.info.UserID
}

// JWTPayload returns the user data embedded in the access token.
func (s *Session) JWTPayload() json.RawMessage {
	if len(s.info.UserDataInJWT) == 0 {
		return json.RawMessage(`{}`)
	}
	return s.info.UserDataInJWT
}

// Info returns a copy of the session identity.
func (s *Session) Info() domain.SessionInfo {
	return s.info
}

// RevokeSession signs the session out. Cookies are cleared only when a live session was deleted.
func (s *Session) RevokeSession(ctx context.Context) error {
	deleted, err := s.service.revokeHandle(ctx, s.info.Handle, domain.RevokeReasonSignOut)
	if err != nil {
		return err
	}
	if deleted {
		s.clearTokens(ctx)
	}
	return nil
}

// GetSessionData returns the server-side data of this session.
func (s *Session) GetSessionData(ctx context.Context) (json.RawMessage, error) {
	data, err := s.service.GetSessionData(ctx, s.info.Handle)
	if errors.Is(err, ErrUnauthorised) {
		s.clearTokens(ctx)
	}
	return data, err
}

// UpdateSessionData replaces the server-side data of this session.
func (s *Session) UpdateSessionData(ctx context.Context, data json.RawMessage) error {
	err := s.service.UpdateSessionData(ctx, s.info.Handle, data)
	if errors.Is(err, ErrUnauthorised) {
		s.clearTokens(ctx)
	}
	return err
}

func (s *Session) clearTokens(ctx context.Context) {
	clearSessionTokens(ctx, s.service, s.response)
}

func clearSessionTokens(ctx context.Context, service *SessionService, response port.ResponseCarrier) {
	if response == nil {
		return
	}
	hs, err := service.Handshake(ctx)
	if err != nil {
		service.logger.Warn("cannot clear session cookies without handshake", zap.Error(err))
		return
	}
	response.ClearSessionTokens(hs.CookieDomain, hs.CookieSecure, hs.AccessTokenPath, hs.RefreshTokenPath)
}
