package domain

import (
	"fmt"
	"time"
)

// HandshakeInfo describes cookie and token parameters shared by every request in a process.
type HandshakeInfo struct {
	CookieDomain         string
	CookieSecure         bool
	AccessTokenPath      string
	RefreshTokenPath     string
	AntiCsrfEnabled      bool
	AccessTokenValidity  time.Duration
	RefreshTokenValidity time.Duration
}

// Validate checks the invariants a usable handshake must hold.
func (h HandshakeInfo) Validate() error {
	if h.AccessTokenPath == "" {
		return fmt.Errorf("handshake: access token path is required")
	}
	if h.RefreshTokenPath == "" {
		return fmt.Errorf("handshake: refresh token path is required")
	}
	if h.AccessTokenValidity < 0 {
		return fmt.Errorf("handshake: access token validity must not be negative")
	}
	if h.RefreshTokenValidity <= 0 {
		return fmt.Errorf("handshake: refresh token validity must be positive")
	}
	return nil
}
