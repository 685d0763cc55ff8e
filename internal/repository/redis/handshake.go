package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
)

const defaultHandshakeKey = "session:handshake"

const (
	hsCookieDomain         = "cookie_domain"
	hsCookieSecure         = "cookie_secure"
	hsAccessTokenPath      = "access_token_path"
	hsRefreshTokenPath     = "refresh_token_path"
	hsAntiCsrfEnabled      = "anti_csrf_enabled"
	hsAccessTokenValidity  = "access_token_validity"
	hsRefreshTokenValidity = "refresh_token_validity"
)

// HandshakeRepository stores the shared handshake parameters in a Redis hash so every
// process in a deployment reads the same cookie and validity settings.
type HandshakeRepository struct {
	client   *red.Client
	key      string
	defaults domain.HandshakeInfo
}

// NewHandshakeRepository constructs a repository. Fields missing from the hash fall back to defaults.
func NewHandshakeRepository(client *red.Client, key string, defaults domain.HandshakeInfo) *HandshakeRepository {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultHandshakeKey
	}
	return &HandshakeRepository{client: client, key: key, defaults: defaults}
}

// FetchHandshake implements port.HandshakeSource.
func (r *HandshakeRepository) FetchHandshake(ctx context.Context) (domain.HandshakeInfo, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return domain.HandshakeInfo{}, fmt.Errorf("redis get handshake: %w", err)
	}

	info := r.defaults
	if v, ok := values[hsCookieDomain]; ok {
		info.CookieDomain = v
	}
	if v, ok := values[hsAccessTokenPath]; ok {
		info.AccessTokenPath = v
	}
	if v, ok := values[hsRefreshTokenPath]; ok {
		info.RefreshTokenPath = v
	}
	if err := parseBoolField(values, hsCookieSecure, &info.CookieSecure); err != nil {
		return domain.HandshakeInfo{}, err
	}
	if err := parseBoolField(values, hsAntiCsrfEnabled, &info.AntiCsrfEnabled); err != nil {
		return domain.HandshakeInfo{}, err
	}
	if err := parseDurationField(values, hsAccessTokenValidity, &info.AccessTokenValidity); err != nil {
		return domain.HandshakeInfo{}, err
	}
	if err := parseDurationField(values, hsRefreshTokenValidity, &info.RefreshTokenValidity); err != nil {
		return domain.HandshakeInfo{}, err
	}

	return info, nil
}

// Save overwrites the stored handshake.
func (r *HandshakeRepository) Save(ctx context.Context, info domain.HandshakeInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	err := r.client.HSet(ctx, r.key,
		hsCookieDomain, info.CookieDomain,
		hsCookieSecure, strconv.FormatBool(info.CookieSecure),
		hsAccessTokenPath, info.AccessTokenPath,
		hsRefreshTokenPath, info.RefreshTokenPath,
		hsAntiCsrfEnabled, strconv.FormatBool(info.AntiCsrfEnabled),
		hsAccessTokenValidity, info.AccessTokenValidity.String(),
		hsRefreshTokenValidity, info.RefreshTokenValidity.String(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis save handshake: %w", err)
	}
	return nil
}

func parseBoolField(values map[string]string, field string, dst *bool) error {
	raw, ok := values[field]
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("decode handshake %s: %w", field, err)
	}
	*dst = parsed
	return nil
}

func parseDurationField(values map[string]string, field string, dst *time.Duration) error {
	raw, ok := values[field]
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("decode handshake %s: %w", field, err)
	}
	*dst = parsed
	return nil
}

var _ port.HandshakeSource = (*HandshakeRepository)(nil)
