package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/arklim/session-service/internal/core/port"
)

const refreshHashInfo = "session-service refresh token hash v1"

// GenerateSecureToken returns a base64 URL-safe random string using the specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken calculates a SHA-256 hash of the provided value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// RefreshTokenHasher produces the lineage marker stored for a refresh token.
// With a secret it is HMAC-SHA256 keyed by an HKDF-derived key; the zero value is plain SHA-256.
type RefreshTokenHasher struct {
	key []byte
}

// NewRefreshTokenHasher derives the HMAC key from secret.
func NewRefreshTokenHasher(secret string) (*RefreshTokenHasher, error) {
	if secret == "" {
		return &RefreshTokenHasher{}, nil
	}

	key := make([]byte, sha256.Size)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(refreshHashInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive refresh hash key: %w", err)
	}
	return &RefreshTokenHasher{key: key}, nil
}

// Hash implements port.TokenHasher.
func (h *RefreshTokenHasher) Hash(token string) string {
	if len(h.key) == 0 {
		return HashToken(token)
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// TokensEqual compares two secrets in constant time.
func TokensEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

var _ port.TokenHasher = (*RefreshTokenHasher)(nil)
