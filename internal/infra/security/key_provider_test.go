package security

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePEM(t *testing.T, dir, name, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
}

func TestFileKeyProvider(t *testing.T) {
	dir := t.TempDir()
	writePEM(t, dir, "a-signing.pem", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(testKey(t, 0)))
	pub, err := x509.MarshalPKIXPublicKey(&testKey(t, 1).PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	writePEM(t, dir, "b-retired.pem", "PUBLIC KEY", pub)

	provider, err := NewFileKeyProvider(dir, "")
	if err != nil {
		t.Fatalf("NewFileKeyProvider returned error: %v", err)
	}
	if provider.SigningKeyID() != "a-signing" {
		t.Fatalf("expected a-signing to sign, got %s", provider.SigningKeyID())
	}
	if _, err := provider.GetVerificationKey("b-retired"); err != nil {
		t.Fatalf("expected retired key to verify: %v", err)
	}
	if _, err := provider.GetVerificationKey("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if len(provider.ListVerificationKeys()) != 2 {
		t.Fatalf("expected two verification keys")
	}

	if _, err := NewFileKeyProvider(dir, "b-retired"); !errors.Is(err, ErrSigningKeyMismatch) {
		t.Fatalf("expected ErrSigningKeyMismatch, got %v", err)
	}
}

func TestFileKeyProviderRequiresPrivateKey(t *testing.T) {
	dir := t.TempDir()
	writePEM(t, dir, "only-public.pem", "RSA PUBLIC KEY", x509.MarshalPKCS1PublicKey(&testKey(t, 0).PublicKey))

	if _, err := NewFileKeyProvider(dir, ""); !errors.Is(err, ErrNoSigningKey) {
		t.Fatalf("expected ErrNoSigningKey, got %v", err)
	}
}

func TestWriteSigningKeyIsLoadable(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteSigningKey(dir, "2025-03", 2048)
	if err != nil {
		t.Fatalf("WriteSigningKey returned error: %v", err)
	}
	if filepath.Base(path) != "2025-03.pem" {
		t.Fatalf("unexpected path %s", path)
	}
	if _, err := WriteSigningKey(dir, "2025-03", 2048); err == nil {
		t.Fatalf("expected refusal to overwrite existing key")
	}
	if _, err := WriteSigningKey(dir, "../escape", 2048); err == nil {
		t.Fatalf("expected rejection of path-like kid")
	}

	provider, err := NewFileKeyProvider(dir, "2025-03")
	if err != nil {
		t.Fatalf("NewFileKeyProvider returned error: %v", err)
	}
	if provider.SigningKeyID() != "2025-03" {
		t.Fatalf("unexpected signing kid %s", provider.SigningKeyID())
	}
}

func TestNewKeyProviderDevelopmentFallsBackToEphemeral(t *testing.T) {
	provider, err := NewKeyProvider("development", filepath.Join(t.TempDir(), "missing"), "")
	if err != nil {
		t.Fatalf("NewKeyProvider returned error: %v", err)
	}
	if provider.SigningKeyID() != "dev" {
		t.Fatalf("expected dev kid, got %s", provider.SigningKeyID())
	}

	if _, err := NewKeyProvider("production", filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Fatalf("expected production to require a key directory")
	}
	if _, err := NewKeyProvider("staging", "", ""); err == nil {
		t.Fatalf("expected unknown environment error")
	}
}
