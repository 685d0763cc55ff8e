package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultKeyBits is the RSA modulus size written by WriteSigningKey.
const DefaultKeyBits = 3072

// WriteSigningKey generates an RSA key and stores it as {dir}/{kid}.pem in PKCS#8 form.
// It refuses to overwrite an existing file.
func WriteSigningKey(dir, kid string, bits int) (string, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return "", ErrKeyIDMissing
	}
	if strings.ContainsAny(kid, `/\.`) {
		return "", fmt.Errorf("kid %q must not contain path separators or dots", kid)
	}
	if bits <= 0 {
		bits = DefaultKeyBits
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", fmt.Errorf("generate rsa key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create key directory: %w", err)
	}

	path := filepath.Join(dir, kid+".pem")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create key file: %w", err)
	}
	defer file.Close()

	if err := pem.Encode(file, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
		return "", fmt.Errorf("write key file: %w", err)
	}
	return path, nil
}
