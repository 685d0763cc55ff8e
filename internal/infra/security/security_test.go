package security

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
)

var (
	testKeyOnce sync.Once
	testKeys    []*rsa.PrivateKey
)

// testKey returns one of two cached RSA keys so tests do not pay for key generation repeatedly.
func testKey(t *testing.T, idx int) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		for i := 0; i < 2; i++ {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			testKeys = append(testKeys, key)
		}
	})
	return testKeys[idx]
}
