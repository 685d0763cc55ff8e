package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
)

var (
	// ErrKeyIDMissing indicates a key or token carries no kid.
	ErrKeyIDMissing = errors.New("jwt: missing key identifier")
	// ErrKeyNotRegistered indicates a token names a kid the key provider does not hold.
	ErrKeyNotRegistered = errors.New("jwt: key not registered")
)

// sessionClaims is the JWT body shared by access and refresh tokens.
type sessionClaims struct {
	Kind          string          `json:"typ"`
	SessionHandle string          `json:"sid"`
	UserID        string          `json:"uid"`
	UserData      json.RawMessage `json:"pld,omitempty"`
	AntiCsrfToken string          `json:"act,omitempty"`
	jwt.RegisteredClaims
}

// JWTCodec signs session tokens with RS256 under the provider's signing kid and verifies
// them against any key the provider still lists. It also publishes those keys as a JWKS.
type JWTCodec struct {
	keys   KeyProvider
	issuer string
	now    func() time.Time
}

// NewJWTCodec builds a codec over keys.
func NewJWTCodec(keys KeyProvider, issuer string) (*JWTCodec, error) {
	if keys == nil {
		return nil, fmt.Errorf("jwt: key provider is required")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, fmt.Errorf("jwt: issuer is required")
	}
	return &JWTCodec{
		keys:   keys,
		issuer: issuer,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the clock used for issuing and validating tokens.
func (c *JWTCodec) WithClock(now func() time.Time) *JWTCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// ActiveKeyID implements port.TokenCodec.
func (c *JWTCodec) ActiveKeyID() string {
	return c.keys.SigningKeyID()
}

// Sign implements port.TokenCodec. A zero validity yields a token that is already expired.
func (c *JWTCodec) Sign(claims domain.TokenClaims, validity time.Duration) (string, time.Time, error) {
	if claims.Kind != domain.TokenKindAccess && claims.Kind != domain.TokenKindRefresh {
		return "", time.Time{}, fmt.Errorf("jwt: unknown token kind %q", claims.Kind)
	}
	if strings.TrimSpace(claims.SessionHandle) == "" {
		return "", time.Time{}, fmt.Errorf("jwt: session handle is required")
	}
	if validity < 0 {
		return "", time.Time{}, fmt.Errorf("jwt: validity must not be negative")
	}

	kid := c.ActiveKeyID()
	if kid == "" {
		return "", time.Time{}, ErrKeyIDMissing
	}

	signingKey, err := c.keys.GetSigningKey()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: get signing key: %w", err)
	}

	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = c.now()
	}
	expiresAt := jwt.NewNumericDate(issuedAt.Add(validity))

	jti := strings.TrimSpace(claims.Nonce)
	if jti == "" {
		jti = uuid.NewString()
	}

	body := &sessionClaims{
		Kind:          string(claims.Kind),
		SessionHandle: claims.SessionHandle,
		UserID:        claims.UserID,
		UserData:      claims.UserData,
		AntiCsrfToken: claims.AntiCsrfToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: expiresAt,
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, body)
	token.Header["kid"] = kid

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, expiresAt.Time, nil
}

// Verify implements port.TokenCodec. Only correctly signed tokens can be reported as expired.
func (c *JWTCodec) Verify(kind domain.TokenKind, token string) (*domain.TokenClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty token", domain.ErrTokenInvalid)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	body := &sessionClaims{}
	parsed, err := parser.ParseWithClaims(token, body, c.verificationKey)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	if body.Kind != string(kind) {
		return nil, fmt.Errorf("%w: expected %s token, got %q", domain.ErrTokenInvalid, kind, body.Kind)
	}
	if body.SessionHandle == "" || body.UserID == "" {
		return nil, fmt.Errorf("%w: missing session claims", domain.ErrTokenInvalid)
	}

	claims := &domain.TokenClaims{
		Kind:          kind,
		SessionHandle: body.SessionHandle,
		UserID:        body.UserID,
		UserData:      body.UserData,
		AntiCsrfToken: body.AntiCsrfToken,
		Nonce:         body.ID,
		KeyID:         tokenKeyID(parsed),
	}
	if body.IssuedAt != nil {
		claims.IssuedAt = body.IssuedAt.Time
	}
	if body.ExpiresAt != nil {
		claims.ExpiresAt = body.ExpiresAt.Time
	}
	return claims, nil
}

// verificationKey resolves the key for the token's kid on every call, so keys the provider
// adds or retires take effect without rebuilding the codec.
func (c *JWTCodec) verificationKey(t *jwt.Token) (any, error) {
	kid := tokenKeyID(t)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}
	key, err := c.keys.GetVerificationKey(kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyNotRegistered, kid, err)
	}
	return key, nil
}

func tokenKeyID(t *jwt.Token) string {
	if t == nil {
		return ""
	}
	kid, _ := t.Header["kid"].(string)
	return strings.TrimSpace(kid)
}

var _ port.TokenCodec = (*JWTCodec)(nil)
