package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
	"github.com/arklim/session-service/internal/infra/logger"
	"github.com/arklim/session-service/internal/infra/security"
	"github.com/arklim/session-service/internal/infra/telemetry"
	"github.com/arklim/session-service/internal/repository"
)

const antiCsrfTokenBytes = 32

// Operation names reported to metrics and spans.
const (
	OperationCreate     = "create"
	OperationGet        = "get"
	OperationRefresh    = "refresh"
	OperationRevoke     = "revoke"
	OperationRevokeUser = "revoke_user"
	OperationListUser   = "list_user"
	OperationGetData    = "get_data"
	OperationUpdateData = "update_data"
)

// ValidationStatus is the outcome of access token validation.
type ValidationStatus string

const (
	ValidationOK              ValidationStatus = "OK"
	ValidationTryRefreshToken ValidationStatus = "TRY_REFRESH_TOKEN"
	ValidationUnauthorised    ValidationStatus = "UNAUTHORISED"
)

// GetSessionResult is returned by SessionService.GetSession. AccessToken is set only when the
// presented token was re-signed under the active key.
type GetSessionResult struct {
	Status      ValidationStatus
	Session     domain.SessionInfo
	AccessToken *domain.TokenInfo
	Reason      string
}

// RefreshStatus is the outcome of a refresh attempt.
type RefreshStatus string

const (
	RefreshOK                 RefreshStatus = "OK"
	RefreshUnauthorised       RefreshStatus = "UNAUTHORISED"
	RefreshTokenTheftDetected RefreshStatus = "TOKEN_THEFT_DETECTED"
)

// RefreshResult is returned by SessionService.RefreshSession. SessionHandle and UserID are
// populated for successful refreshes and for detected theft.
type RefreshResult struct {
	Status        RefreshStatus
	Bundle        *domain.TokenBundle
	SessionHandle string
	UserID        string
	Reason        string
}

// SessionService implements the session lifecycle: issuing, validating, rotating and revoking
// the access/refresh token pair.
type SessionService struct {
	store           port.SessionStore
	codec           port.TokenCodec
	handshake       *HandshakeCache
	events          port.EventPublisher
	hasher          port.TokenHasher
	revocations     port.RevocationList
	checkRevocation bool
	metrics         port.SessionMetrics
	tracer          trace.Tracer
	logger          *zap.Logger
	now             func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(store port.SessionStore, codec port.TokenCodec, handshake *HandshakeCache, events port.EventPublisher, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		store:     store,
		codec:     codec,
		handshake: handshake,
		events:    events,
		hasher:    &security.RefreshTokenHasher{},
		tracer:    otel.Tracer(telemetry.TracerName),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) *SessionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithTokenHasher replaces the refresh token hasher.
func (s *SessionService) WithTokenHasher(hasher port.TokenHasher) *SessionService {
	if hasher != nil {
		s.hasher = hasher
	}
	return s
}

// WithRevocationList records revoked handles in list. When check is true GetSession also
// rejects access tokens of revoked sessions before they expire.
func (s *SessionService) WithRevocationList(list port.RevocationList, check bool) *SessionService {
	s.revocations = list
	s.checkRevocation = check && list != nil
	return s
}

// WithMetrics injects the metrics sink.
func (s *SessionService) WithMetrics(metrics port.SessionMetrics) *SessionService {
	s.metrics = metrics
	return s
}

// Handshake returns the current handshake parameters.
func (s *SessionService) Handshake(ctx context.Context) (domain.HandshakeInfo, error) {
	if s.handshake == nil {
		return domain.HandshakeInfo{}, generalError("handshake not configured", nil)
	}
	info, err := s.handshake.Get(ctx)
	if err != nil {
		return domain.HandshakeInfo{}, generalError("load handshake", err)
	}
	return info, nil
}

// CreateNewSession starts a new session lineage for userID and issues its tokens.
func (s *SessionService) CreateNewSession(ctx context.Context, userID string, jwtPayload, sessionData json.RawMessage) (bundle *domain.TokenBundle, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.CreateNewSession")
	defer func() { s.finish(span, OperationCreate, err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, generalError("user id is required", nil)
	}
	payload, err := domain.NormalizeJSON(jwtPayload)
	if err != nil {
		return nil, generalError("invalid jwt payload", err)
	}
	data, err := domain.NormalizeJSON(sessionData)
	if err != nil {
		return nil, generalError("invalid session data", err)
	}

	hs, err := s.Handshake(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	handle, err := domain.NewSessionHandle(now)
	if err != nil {
		return nil, generalError("create session", err)
	}
	span.SetAttributes(attribute.String("session.handle", handle))

	antiCsrf, err := s.newAntiCsrfToken(hs)
	if err != nil {
		return nil, err
	}

	info := domain.SessionInfo{Handle: handle, UserID: userID, UserDataInJWT: payload}
	bundle, err = s.issue(hs, info, antiCsrf, now)
	if err != nil {
		return nil, err
	}

	record := domain.SessionRecord{
		Handle:           handle,
		UserID:           userID,
		UserDataInJWT:    payload,
		SessionData:      data,
		RefreshTokenHash: s.hasher.Hash(bundle.RefreshToken.Token),
		AntiCsrfToken:    antiCsrf,
		CreatedAt:        now,
		ExpiresAt:        bundle.RefreshToken.Expiry,
	}
	if err := s.store.Create(ctx, record); err != nil {
		return nil, generalError("persist session", err)
	}

	logger.FromContext(ctx, s.logger).Info("session created",
		zap.String("session_handle", logger.MaskString(handle)),
		zap.String("user_id", userID),
	)

	if s.events != nil {
		event := domain.SessionCreatedEvent{
			EventID:       uuid.NewString(),
			SessionHandle: handle,
			UserID:        userID,
			CreatedAt:     now,
			ExpiresAt:     record.ExpiresAt,
		}
		if pubErr := s.events.PublishSessionCreated(ctx, event); pubErr != nil {
			s.logger.Warn("publish session created event failed", zap.Error(pubErr))
		}
	}

	return bundle, nil
}

// GetSession validates an access token. Expired tokens yield ValidationTryRefreshToken; every
// other rejection yields ValidationUnauthorised. The error is reserved for general failures.
func (s *SessionService) GetSession(ctx context.Context, accessToken, antiCsrfToken string, doAntiCsrfCheck bool) (result GetSessionResult, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.GetSession")
	defer func() { s.finishWith(span, OperationGet, validationOutcome(result.Status), err) }()

	hs, err := s.Handshake(ctx)
	if err != nil {
		return GetSessionResult{}, err
	}

	if accessToken == "" {
		return GetSessionResult{Status: ValidationUnauthorised, Reason: "access token missing"}, nil
	}

	claims, err := s.codec.Verify(domain.TokenKindAccess, accessToken)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			return GetSessionResult{Status: ValidationTryRefreshToken, Reason: "access token expired"}, nil
		}
		s.logger.Debug("access token rejected", zap.String("token", logger.MaskToken(accessToken)), zap.Error(err))
		return GetSessionResult{Status: ValidationUnauthorised, Reason: "access token invalid"}, nil
	}

	if doAntiCsrfCheck && hs.AntiCsrfEnabled {
		if antiCsrfToken == "" || claims.AntiCsrfToken == "" || !security.TokensEqual(antiCsrfToken, claims.AntiCsrfToken) {
			return GetSessionResult{Status: ValidationUnauthorised, Reason: "anti-csrf check failed"}, nil
		}
	}

	if s.checkRevocation {
		reason, revoked, revErr := s.revocations.Lookup(ctx, claims.SessionHandle)
		if revErr != nil {
			return GetSessionResult{}, generalError("check session revocation", revErr)
		}
		if revoked {
			return GetSessionResult{Status: ValidationUnauthorised, Reason: "session revoked: " + reason}, nil
		}
	}

	result = GetSessionResult{
		Status: ValidationOK,
		Session: domain.SessionInfo{
			Handle:        claims.SessionHandle,
			UserID:        claims.UserID,
			UserDataInJWT: claims.UserData,
		},
	}

	if claims.KeyID != s.codec.ActiveKeyID() {
		reissued, reErr := s.reissueAccessToken(hs, *claims)
		if reErr != nil {
			return GetSessionResult{}, reErr
		}
		result.AccessToken = reissued
	}

	return result, nil
}

// RefreshSession rotates the refresh token of a lineage. Presenting a superseded refresh token
// revokes the lineage and reports RefreshTokenTheftDetected.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (result RefreshResult, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.RefreshSession")
	defer func() { s.finishWith(span, OperationRefresh, refreshOutcome(result.Status), err) }()

	hs, err := s.Handshake(ctx)
	if err != nil {
		return RefreshResult{}, err
	}

	if refreshToken == "" {
		return RefreshResult{Status: RefreshUnauthorised, Reason: "refresh token missing"}, nil
	}

	claims, err := s.codec.Verify(domain.TokenKindRefresh, refreshToken)
	if err != nil {
		s.logger.Debug("refresh token rejected", zap.String("token", logger.MaskToken(refreshToken)), zap.Error(err))
		return RefreshResult{Status: RefreshUnauthorised, Reason: "refresh token invalid"}, nil
	}

	record, err := s.store.Get(ctx, claims.SessionHandle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RefreshResult{Status: RefreshUnauthorised, Reason: "session not found"}, nil
		}
		return RefreshResult{}, generalError("load session", err)
	}
	if record.UserID != claims.UserID {
		return RefreshResult{Status: RefreshUnauthorised, Reason: "session owner mismatch"}, nil
	}

	presentedHash := s.hasher.Hash(refreshToken)
	if !security.TokensEqual(presentedHash, record.RefreshTokenHash) {
		return s.handleTheft(ctx, hs, record.Handle, record.UserID), nil
	}

	now := s.now()
	antiCsrf, err := s.newAntiCsrfToken(hs)
	if err != nil {
		return RefreshResult{}, err
	}

	info := record.Info()
	bundle, err := s.issue(hs, info, antiCsrf, now)
	if err != nil {
		return RefreshResult{}, err
	}

	rotation := domain.RefreshRotation{
		Handle:        record.Handle,
		ExpectedHash:  presentedHash,
		NewHash:       s.hasher.Hash(bundle.RefreshToken.Token),
		AntiCsrfToken: antiCsrf,
		ExpiresAt:     bundle.RefreshToken.Expiry,
	}
	if err := s.store.RotateRefreshToken(ctx, rotation); err != nil {
		switch {
		case errors.Is(err, repository.ErrRefreshTokenMismatch):
			return s.handleTheft(ctx, hs, record.Handle, record.UserID), nil
		case errors.Is(err, repository.ErrNotFound):
			return RefreshResult{Status: RefreshUnauthorised, Reason: "session not found"}, nil
		default:
			return RefreshResult{}, generalError("rotate refresh token", err)
		}
	}

	if s.events != nil {
		event := domain.SessionRefreshedEvent{
			EventID:       uuid.NewString(),
			SessionHandle: record.Handle,
			UserID:        record.UserID,
			RefreshedAt:   now,
			ExpiresAt:     rotation.ExpiresAt,
		}
		if pubErr := s.events.PublishSessionRefreshed(ctx, event); pubErr != nil {
			s.logger.Warn("publish session refreshed event failed", zap.Error(pubErr))
		}
	}

	return RefreshResult{
		Status:        RefreshOK,
		Bundle:        bundle,
		SessionHandle: record.Handle,
		UserID:        record.UserID,
	}, nil
}

// RevokeSessionUsingSessionHandle deletes a single session. It reports whether a live session
// was removed; revoking an unknown handle is not an error.
func (s *SessionService) RevokeSessionUsingSessionHandle(ctx context.Context, handle string) (bool, error) {
	return s.revokeHandle(ctx, handle, domain.RevokeReasonHandle)
}

func (s *SessionService) revokeHandle(ctx context.Context, handle, reason string) (deleted bool, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.RevokeSession")
	defer func() { s.finish(span, OperationRevoke, err) }()

	if strings.TrimSpace(handle) == "" {
		return false, nil
	}

	deleted, err = s.store.Delete(ctx, handle)
	if err != nil {
		return false, generalError("delete session", err)
	}
	if !deleted {
		return false, nil
	}

	s.markRevoked(ctx, []string{handle}, reason)
	logger.FromContext(ctx, s.logger).Info("session revoked",
		zap.String("session_handle", logger.MaskString(handle)),
		zap.String("reason", reason),
	)
	s.publishRevoked(ctx, "", []string{handle}, reason)
	return true, nil
}

// RevokeAllSessionsForUser deletes every session of userID and returns how many were removed.
func (s *SessionService) RevokeAllSessionsForUser(ctx context.Context, userID string) (count int, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.RevokeAllSessionsForUser")
	defer func() { s.finish(span, OperationRevokeUser, err) }()

	if strings.TrimSpace(userID) == "" {
		return 0, generalError("user id is required", nil)
	}

	handles, err := s.store.ListHandlesForUser(ctx, userID)
	if err != nil {
		return 0, generalError("list user sessions", err)
	}

	count, err = s.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, generalError("delete user sessions", err)
	}
	if count == 0 {
		return 0, nil
	}

	s.markRevoked(ctx, handles, domain.RevokeReasonAllForUser)
	logger.FromContext(ctx, s.logger).Info("user sessions revoked", zap.String("user_id", userID), zap.Int("count", count))
	s.publishRevoked(ctx, userID, handles, domain.RevokeReasonAllForUser)
	return count, nil
}

// GetAllSessionHandlesForUser lists the live session handles of userID.
func (s *SessionService) GetAllSessionHandlesForUser(ctx context.Context, userID string) (handles []string, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.GetAllSessionHandlesForUser")
	defer func() { s.finish(span, OperationListUser, err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, generalError("user id is required", nil)
	}

	handles, err = s.store.ListHandlesForUser(ctx, userID)
	if err != nil {
		return nil, generalError("list user sessions", err)
	}
	if handles == nil {
		handles = []string{}
	}
	return handles, nil
}

// GetSessionData returns the server-side data of a live session. Unknown or expired sessions
// yield ErrUnauthorised.
func (s *SessionService) GetSessionData(ctx context.Context, handle string) (data json.RawMessage, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.GetSessionData")
	defer func() { s.finish(span, OperationGetData, err) }()

	record, err := s.store.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, unauthorised("session not found", err)
		}
		return nil, generalError("load session", err)
	}

	data, err = domain.NormalizeJSON(record.SessionData)
	if err != nil {
		return nil, generalError("decode session data", err)
	}
	return data, nil
}

// UpdateSessionData replaces the server-side data of a live session.
func (s *SessionService) UpdateSessionData(ctx context.Context, handle string, data json.RawMessage) (err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.UpdateSessionData")
	defer func() { s.finish(span, OperationUpdateData, err) }()

	normalized, err := domain.NormalizeJSON(data)
	if err != nil {
		return generalError("invalid session data", err)
	}

	if err := s.store.UpdateSessionData(ctx, handle, normalized); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return unauthorised("session not found", err)
		}
		return generalError("update session data", err)
	}
	return nil
}

// issue signs a fresh access/refresh pair for info. Both expiries are measured from now.
func (s *SessionService) issue(hs domain.HandshakeInfo, info domain.SessionInfo, antiCsrf string, now time.Time) (*domain.TokenBundle, error) {
	refreshToken, refreshExpiry, err := s.codec.Sign(domain.TokenClaims{
		Kind:          domain.TokenKindRefresh,
		SessionHandle: info.Handle,
		UserID:        info.UserID,
		IssuedAt:      now,
	}, hs.RefreshTokenValidity)
	if err != nil {
		return nil, generalError("sign refresh token", err)
	}

	accessToken, accessExpiry, err := s.codec.Sign(domain.TokenClaims{
		Kind:          domain.TokenKindAccess,
		SessionHandle: info.Handle,
		UserID:        info.UserID,
		UserData:      info.UserDataInJWT,
		AntiCsrfToken: antiCsrf,
		IssuedAt:      now,
	}, hs.AccessTokenValidity)
	if err != nil {
		return nil, generalError("sign access token", err)
	}

	return &domain.TokenBundle{
		Session: info,
		AccessToken: domain.TokenInfo{
			Token:  accessToken,
			Expiry: accessExpiry,
			Domain: hs.CookieDomain,
			Path:   hs.AccessTokenPath,
			Secure: hs.CookieSecure,
		},
		RefreshToken: domain.TokenInfo{
			Token:  refreshToken,
			Expiry: refreshExpiry,
			Domain: hs.CookieDomain,
			Path:   hs.RefreshTokenPath,
			Secure: hs.CookieSecure,
		},
		IDRefreshToken: domain.TokenInfo{
			Token:  uuid.NewString(),
			Expiry: refreshExpiry,
			Domain: hs.CookieDomain,
			Path:   hs.AccessTokenPath,
			Secure: hs.CookieSecure,
		},
		AntiCsrfToken: antiCsrf,
	}, nil
}

// reissueAccessToken re-signs claims under the active key, keeping the original expiry.
func (s *SessionService) reissueAccessToken(hs domain.HandshakeInfo, claims domain.TokenClaims) (*domain.TokenInfo, error) {
	now := s.now()
	remaining := claims.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return nil, nil
	}

	claims.IssuedAt = now
	claims.Nonce = ""
	claims.KeyID = ""
	token, expiry, err := s.codec.Sign(claims, remaining)
	if err != nil {
		return nil, generalError("re-sign access token", err)
	}

	s.logger.Debug("access token re-signed under active key",
		zap.String("session_handle", logger.MaskString(claims.SessionHandle)),
		zap.String("kid", s.codec.ActiveKeyID()),
	)
	return &domain.TokenInfo{
		Token:  token,
		Expiry: expiry,
		Domain: hs.CookieDomain,
		Path:   hs.AccessTokenPath,
		Secure: hs.CookieSecure,
	}, nil
}

// handleTheft revokes a lineage whose superseded refresh token was replayed.
func (s *SessionService) handleTheft(ctx context.Context, hs domain.HandshakeInfo, handle, userID string) RefreshResult {
	if _, err := s.store.Delete(ctx, handle); err != nil {
		logger.FromContext(ctx, s.logger).Error("failed to revoke session after token theft",
			zap.String("session_handle", logger.MaskString(handle)),
			zap.Error(err),
		)
	}
	s.markRevoked(ctx, []string{handle}, domain.RevokeReasonTokenTheft)

	logger.FromContext(ctx, s.logger).Warn("refresh token reuse detected, session revoked",
		zap.String("session_handle", logger.MaskString(handle)),
		zap.String("user_id", userID),
		zap.Duration("access_token_validity", hs.AccessTokenValidity),
	)

	if s.metrics != nil {
		s.metrics.ObserveTokenTheft()
	}

	if s.events != nil {
		event := domain.TokenTheftDetectedEvent{
			EventID:       uuid.NewString(),
			SessionHandle: handle,
			UserID:        userID,
			DetectedAt:    s.now(),
		}
		if err := s.events.PublishTokenTheftDetected(ctx, event); err != nil {
			s.logger.Warn("publish token theft event failed", zap.Error(err))
		}
	}
	s.publishRevoked(ctx, userID, []string{handle}, domain.RevokeReasonTokenTheft)

	return RefreshResult{
		Status:        RefreshTokenTheftDetected,
		SessionHandle: handle,
		UserID:        userID,
		Reason:        "refresh token reused",
	}
}

// markRevoked flags handles in the revocation list for as long as their access tokens may live.
func (s *SessionService) markRevoked(ctx context.Context, handles []string, reason string) {
	if s.revocations == nil || len(handles) == 0 {
		return
	}
	hs, err := s.Handshake(ctx)
	if err != nil || hs.AccessTokenValidity <= 0 {
		return
	}
	if err := s.revocations.Revoke(ctx, handles, reason, hs.AccessTokenValidity); err != nil {
		s.logger.Warn("failed to record session revocation",
			zap.Int("sessions", len(handles)),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

func (s *SessionService) publishRevoked(ctx context.Context, userID string, handles []string, reason string) {
	if s.events == nil {
		return
	}
	event := domain.SessionRevokedEvent{
		EventID:        uuid.NewString(),
		SessionHandles: handles,
		UserID:         userID,
		Reason:         reason,
		RevokedAt:      s.now(),
	}
	if err := s.events.PublishSessionRevoked(ctx, event); err != nil {
		s.logger.Warn("publish session revoked event failed", zap.Error(err))
	}
}

func (s *SessionService) newAntiCsrfToken(hs domain.HandshakeInfo) (string, error) {
	if !hs.AntiCsrfEnabled {
		return "", nil
	}
	token, err := security.GenerateSecureToken(antiCsrfTokenBytes)
	if err != nil {
		return "", generalError("generate anti-csrf token", err)
	}
	return token, nil
}

func (s *SessionService) finish(span trace.Span, operation string, err error) {
	outcome := telemetry.OutcomeOK
	if err != nil {
		outcome = outcomeForKind(KindOf(err))
	}
	s.finishWith(span, operation, outcome, err)
}

func (s *SessionService) finishWith(span trace.Span, operation, outcome string, err error) {
	if err != nil {
		outcome = outcomeForKind(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("session.outcome", outcome))
	span.End()

	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, outcome)
	}
}

func outcomeForKind(kind SessionErrorKind) string {
	switch kind {
	case KindUnauthorised:
		return telemetry.OutcomeUnauthorised
	case KindTryRefreshToken:
		return telemetry.OutcomeTryRefreshToken
	case KindTokenTheftDetected:
		return telemetry.OutcomeTheftDetected
	default:
		return telemetry.OutcomeGeneralError
	}
}

func validationOutcome(status ValidationStatus) string {
	switch status {
	case ValidationTryRefreshToken:
		return telemetry.OutcomeTryRefreshToken
	case ValidationUnauthorised:
		return telemetry.OutcomeUnauthorised
	default:
		return telemetry.OutcomeOK
	}
}

func refreshOutcome(status RefreshStatus) string {
	switch status {
	case RefreshUnauthorised:
		return telemetry.OutcomeUnauthorised
	case RefreshTokenTheftDetected:
		return telemetry.OutcomeTheftDetected
	default:
		return telemetry.OutcomeOK
	}
}
