package redis

import (
	"context"
	"testing"
	"time"

	"github.com/arklim/session-service/internal/core/domain"
)

func defaultHandshake() domain.HandshakeInfo {
	return domain.HandshakeInfo{
		CookieDomain:         "example.com",
		CookieSecure:         true,
		AccessTokenPath:      "/",
		RefreshTokenPath:     "/api/v1/session/refresh",
		AntiCsrfEnabled:      true,
		AccessTokenValidity:  time.Hour,
		RefreshTokenValidity: 100 * 24 * time.Hour,
	}
}

func TestHandshakeRepository_FallsBackToDefaults(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewHandshakeRepository(client, "", defaultHandshake())

	info, err := repo.FetchHandshake(context.Background())
	if err != nil {
		t.Fatalf("FetchHandshake returned error: %v", err)
	}
	if info != defaultHandshake() {
		t.Fatalf("expected defaults, got %+v", info)
	}
}

func TestHandshakeRepository_SaveOverridesDefaults(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewHandshakeRepository(client, "session:handshake:test", defaultHandshake())

	updated := defaultHandshake()
	updated.AntiCsrfEnabled = false
	updated.AccessTokenValidity = 5 * time.Minute
	updated.CookieDomain = "auth.example.com"

	if err := repo.Save(context.Background(), updated); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	info, err := repo.FetchHandshake(context.Background())
	if err != nil {
		t.Fatalf("FetchHandshake returned error: %v", err)
	}
	if info != updated {
		t.Fatalf("expected %+v, got %+v", updated, info)
	}
}

func TestHandshakeRepository_RejectsCorruptFields(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewHandshakeRepository(client, "session:handshake:test", defaultHandshake())

	client.HSet(context.Background(), "session:handshake:test", hsAccessTokenValidity, "soon")

	if _, err := repo.FetchHandshake(context.Background()); err == nil {
		t.Fatalf("expected error for corrupt duration")
	}
}

func TestHandshakeRepository_SaveValidates(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewHandshakeRepository(client, "", defaultHandshake())

	invalid := defaultHandshake()
	invalid.RefreshTokenValidity = 0
	if err := repo.Save(context.Background(), invalid); err == nil {
		t.Fatalf("expected validation error")
	}
}
