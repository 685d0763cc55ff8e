package security

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"sort"

	"github.com/golang-jwt/jwt/v5"
)

// jwk is the published form of one RS256 verification key.
type jwk struct {
	KeyType   string `json:"kty"`
	Use       string `json:"use"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Modulus   string `json:"n"`
	Exponent  string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// JWKS renders every key the codec accepts, ordered by kid. Retired keys stay listed
// for as long as the provider keeps them.
func (c *JWTCodec) JWKS() ([]byte, error) {
	accepted := c.keys.ListVerificationKeys()

	set := jwkSet{Keys: make([]jwk, 0, len(accepted))}
	for kid, key := range accepted {
		if key == nil {
			continue
		}
		set.Keys = append(set.Keys, toJWK(kid, key))
	}
	sort.Slice(set.Keys, func(i, j int) bool { return set.Keys[i].KeyID < set.Keys[j].KeyID })

	return json.Marshal(set)
}

func toJWK(kid string, key *rsa.PublicKey) jwk {
	return jwk{
		KeyType:   "RSA",
		Use:       "sig",
		Algorithm: jwt.SigningMethodRS256.Alg(),
		KeyID:     kid,
		Modulus:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		Exponent:  base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
