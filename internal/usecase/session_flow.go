package usecase

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
	"github.com/arklim/session-service/internal/infra/logger"
)

// SessionFlow binds SessionService to request and response carriers: it reads tokens from the
// request, writes issued tokens to the response and clears them when a session is rejected.
type SessionFlow struct {
	service *SessionService
	logger  *zap.Logger
}

// NewSessionFlow constructs a SessionFlow.
func NewSessionFlow(service *SessionService, logger *zap.Logger) *SessionFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionFlow{service: service, logger: logger}
}

// Service exposes the underlying session service.
func (f *SessionFlow) Service() *SessionService {
	return f.service
}

// CreateNewSession starts a session for userID and attaches its tokens to res.
func (f *SessionFlow) CreateNewSession(ctx context.Context, res port.ResponseCarrier, userID string, jwtPayload, sessionData json.RawMessage) (*Session, error) {
	bundle, err := f.service.CreateNewSession(ctx, userID, jwtPayload, sessionData)
	if err != nil {
		return nil, err
	}
	attachBundle(res, bundle)
	return newSession(f.service, bundle.Session, res), nil
}

// GetSession verifies the access token carried by req. A missing access token asks the client
// to refresh; an invalid one clears the token cookies.
func (f *SessionFlow) GetSession(ctx context.Context, req port.RequestCarrier, res port.ResponseCarrier, doAntiCsrfCheck bool) (*Session, error) {
	accessToken, ok := req.AccessToken()
	if !ok || accessToken == "" {
		return nil, &SessionError{Kind: KindTryRefreshToken, Message: "access token missing"}
	}
	antiCsrf, _ := req.AntiCsrfToken()

	result, err := f.service.GetSession(ctx, accessToken, antiCsrf, doAntiCsrfCheck)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case ValidationOK:
		if result.AccessToken != nil {
			res.AttachAccessToken(result.AccessToken.Token, result.AccessToken.Expiry, result.AccessToken.Domain, result.AccessToken.Path, result.AccessToken.Secure)
		}
		return newSession(f.service, result.Session, res), nil
	case ValidationTryRefreshToken:
		return nil, &SessionError{Kind: KindTryRefreshToken, Message: result.Reason}
	default:
		clearSessionTokens(ctx, f.service, res)
		return nil, &SessionError{Kind: KindUnauthorised, Message: result.Reason}
	}
}

// RefreshSession rotates the refresh token carried by req and attaches the new tokens to res.
func (f *SessionFlow) RefreshSession(ctx context.Context, req port.RequestCarrier, res port.ResponseCarrier) (*Session, error) {
	refreshToken, ok := req.RefreshToken()
	if !ok || refreshToken == "" {
		clearSessionTokens(ctx, f.service, res)
		return nil, &SessionError{Kind: KindUnauthorised, Message: "refresh token missing"}
	}

	result, err := f.service.RefreshSession(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case RefreshOK:
		attachBundle(res, result.Bundle)
		return newSession(f.service, result.Bundle.Session, res), nil
	case RefreshTokenTheftDetected:
		clearSessionTokens(ctx, f.service, res)
		f.logger.Warn("refresh rejected: token theft detected",
			zap.String("session_handle", logger.MaskString(result.SessionHandle)),
			zap.String("user_id", result.UserID),
		)
		return nil, &SessionError{
			Kind:          KindTokenTheftDetected,
			Message:       result.Reason,
			SessionHandle: result.SessionHandle,
			UserID:        result.UserID,
		}
	default:
		clearSessionTokens(ctx, f.service, res)
		return nil, &SessionError{Kind: KindUnauthorised, Message: result.Reason}
	}
}

func attachBundle(res port.ResponseCarrier, bundle *domain.TokenBundle) {
	if res == nil || bundle == nil {
		return
	}
	access := bundle.AccessToken
	res.AttachAccessToken(access.Token, access.Expiry, access.Domain, access.Path, access.Secure)
	refresh := bundle.RefreshToken
	res.AttachRefreshToken(refresh.Token, refresh.Expiry, refresh.Domain, refresh.Path, refresh.Secure)
	res.SetIDRefreshToken(bundle.IDRefreshToken.Token, bundle.IDRefreshToken.Expiry)
	if bundle.AntiCsrfToken != "" {
		res.SetAntiCsrfToken(bundle.AntiCsrfToken)
	}
}
