package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrNoSigningKey       = errors.New("no private key found for signing")
	ErrSigningKeyMismatch = errors.New("configured signing kid has no private key")
)

const ephemeralKeyBits = 2048

// KeyProvider defines the interface for providing cryptographic keys.
type KeyProvider interface {
	GetSigningKey() (*rsa.PrivateKey, error)
	SigningKeyID() string
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
	ListVerificationKeys() map[string]*rsa.PublicKey
}

// FileKeyProvider reads PEM keys from a directory; the file name without extension is the kid.
// Private keys can sign, public-only files are kept for verifying tokens signed by retired keys.
type FileKeyProvider struct {
	keys        map[string]*rsa.PublicKey
	privateKeys map[string]*rsa.PrivateKey
	signingKID  string
}

// NewFileKeyProvider loads every key in keyDir. When signingKID is empty the first private key
// in directory order signs.
func NewFileKeyProvider(keyDir, signingKID string) (*FileKeyProvider, error) {
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}

	provider := &FileKeyProvider{
		keys:        make(map[string]*rsa.PublicKey),
		privateKeys: make(map[string]*rsa.PrivateKey),
	}

	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
			continue
		}

		path := filepath.Join(keyDir, file.Name())
		keyData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
		}

		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		private, public, err := parsePEMKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key from file %s: %w", path, err)
		}

		provider.keys[kid] = public
		if private != nil {
			provider.privateKeys[kid] = private
			if signingKID == "" && provider.signingKID == "" {
				provider.signingKID = kid
			}
		}
	}

	if signingKID != "" {
		if _, ok := provider.privateKeys[signingKID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrSigningKeyMismatch, signingKID)
		}
		provider.signingKID = signingKID
	}
	if provider.signingKID == "" {
		return nil, ErrNoSigningKey
	}

	return provider, nil
}

// GetSigningKey returns the private key for signing tokens.
func (p *FileKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.privateKeys[p.signingKID], nil
}

// SigningKeyID returns the kid stamped on new tokens.
func (p *FileKeyProvider) SigningKeyID() string {
	return p.signingKID
}

// GetVerificationKey returns the public key for verifying tokens.
func (p *FileKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// ListVerificationKeys returns a copy of every public key known to the provider.
func (p *FileKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		out[kid] = key
	}
	return out
}

// StaticKeyProvider serves a fixed in-memory signing key plus optional verification-only keys.
type StaticKeyProvider struct {
	kid      string
	key      *rsa.PrivateKey
	verifies map[string]*rsa.PublicKey
}

// NewStaticKeyProvider wraps an existing key pair.
func NewStaticKeyProvider(kid string, key *rsa.PrivateKey) (*StaticKeyProvider, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}
	if key == nil {
		return nil, ErrNoSigningKey
	}
	return &StaticKeyProvider{
		kid:      kid,
		key:      key,
		verifies: map[string]*rsa.PublicKey{kid: &key.PublicKey},
	}, nil
}

// NewEphemeralKeyProvider generates a throwaway key pair. Tokens do not survive a restart.
func NewEphemeralKeyProvider(kid string) (*StaticKeyProvider, error) {
	key, err := rsa.GenerateKey(rand.Reader, ephemeralKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return NewStaticKeyProvider(kid, key)
}

// AddVerificationKey keeps accepting tokens signed under kid.
func (p *StaticKeyProvider) AddVerificationKey(kid string, key *rsa.PublicKey) {
	p.verifies[kid] = key
}

func (p *StaticKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) { return p.key, nil }

func (p *StaticKeyProvider) SigningKeyID() string { return p.kid }

func (p *StaticKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.verifies[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

func (p *StaticKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.verifies))
	for kid, key := range p.verifies {
		out[kid] = key
	}
	return out
}

// NewKeyProvider creates a KeyProvider based on the environment.
// Production requires a key directory; development falls back to an ephemeral key when the
// directory is missing.
func NewKeyProvider(env, keyDir, signingKID string) (KeyProvider, error) {
	switch env {
	case "production":
		return NewFileKeyProvider(keyDir, signingKID)
	case "development", "test":
		if _, err := os.Stat(keyDir); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				kid := signingKID
				if kid == "" {
					kid = "dev"
				}
				return NewEphemeralKeyProvider(kid)
			}
			return nil, fmt.Errorf("stat key directory: %w", err)
		}
		return NewFileKeyProvider(keyDir, signingKID)
	default:
		return nil, fmt.Errorf("unknown environment: %s", env)
	}
}

func parsePEMKey(data []byte) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, errors.New("failed to decode PEM block")
	}

	// PKCS#1 (RSA PRIVATE KEY)
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, &key.PublicKey, nil
	}

	// PKCS#8 (PRIVATE KEY)
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, &rsaKey.PublicKey, nil
		}
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return nil, key, nil
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return nil, rsaKey, nil
		}
	}

	return nil, nil, errors.New("unsupported key format")
}
