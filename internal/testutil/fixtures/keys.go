package fixtures

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var (
	keysOnce sync.Once
	rsaKey   *rsa.PrivateKey
	rsaAlt   *rsa.PrivateKey
	ecKey    *ecdsa.PrivateKey
	ecP384   *ecdsa.PrivateKey
)

func generate() {
	keysOnce.Do(func() {
		var err error
		if rsaKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if rsaAlt, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if ecKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
			panic(err)
		}
		if ecP384, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader); err != nil {
			panic(err)
		}
	})
}

// RSAKey returns the shared RSA test key.
func RSAKey() *rsa.PrivateKey { generate(); return rsaKey }

// OtherRSAKey returns a second RSA key that verifies nothing signed by RSAKey.
func OtherRSAKey() *rsa.PrivateKey { generate(); return rsaAlt }

// ECKey returns the shared P-256 test key.
func ECKey() *ecdsa.PrivateKey { generate(); return ecKey }

// ECP384Key returns a P-384 key, which ES256 must never accept.
func ECP384Key() *ecdsa.PrivateKey { generate(); return ecP384 }

// PublicKeyPEM encodes a public key as a PKIX "PUBLIC KEY" block.
func PublicKeyPEM(t testing.TB, pub any) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// PrivateKeyPEM encodes a private key as a PKCS#8 "PRIVATE KEY" block.
func PrivateKeyPEM(t testing.TB, priv any) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// RSAPrivateKeyPEM encodes an RSA key as a PKCS#1 "RSA PRIVATE KEY" block.
func RSAPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// ECPrivateKeyPEM encodes an EC key as a SEC 1 "EC PRIVATE KEY" block.
func ECPrivateKeyPEM(t testing.TB, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

// Claims is a mutable assertion claim set.
type Claims map[string]any

// ValidClaims returns the standard assertion claims: issued and valid
// from now, expiring after [AssertionLifetime], issued by [Issuer] for
// [Audience].
func ValidClaims(now time.Time) Claims {
	return Claims{
		"iss": Issuer,
		"sub": Subject,
		"aud": Audience,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(AssertionLifetime).Unix(),
	}
}

// With returns a copy of c with key set to value.
func (c Claims) With(key string, value any) Claims {
	out := make(Claims, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[key] = value
	return out
}

// Without returns a copy of c with the given keys removed.
func (c Claims) Without(keys ...string) Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Sign produces a compact assertion signed with method and key. Extra
// header values override the defaults, which lets tests declare one
// algorithm while signing with another.
func Sign(t testing.TB, method jwt.SigningMethod, key any, claims Claims, header map[string]any) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.MapClaims(claims))
	for k, v := range header {
		tok.Header[k] = v
	}
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

// SignRS256 signs claims with [RSAKey].
func SignRS256(t testing.TB, claims Claims) string {
	t.Helper()
	return Sign(t, jwt.SigningMethodRS256, RSAKey(), claims, nil)
}

// SignES256 signs claims with [ECKey].
func SignES256(t testing.TB, claims Claims) string {
	t.Helper()
	return Sign(t, jwt.SigningMethodES256, ECKey(), claims, nil)
}

// SignHS256 signs claims with [HMACSecret].
func SignHS256(t testing.TB, claims Claims) string {
	t.Helper()
	return Sign(t, jwt.SigningMethodHS256, HMACSecret, claims, nil)
}

// Unsigned builds a token with the given header and claims and an empty
// signature segment, as an "alg":"none" attacker would.
func Unsigned(t testing.TB, header map[string]any, claims Claims) string {
	t.Helper()
	return Segment(t, header) + "." + Segment(t, claims) + "."
}

// Segment base64url-encodes the JSON form of v without padding.
func Segment(t testing.TB, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(b)
}

// RawSegment base64url-encodes s without padding.
func RawSegment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
