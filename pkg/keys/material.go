// Package keys turns configured key sources into immutable [Material]
// values: the verification key for assertion signatures and, for the
// token issuer, the signing key for access tokens.
//
// Key material is resolved once, when a grant or issuer is constructed,
// and is then shared read-only across concurrent requests.
//
// # Formats
//
// [Parse] recognizes, in order:
//
//   - PEM blocks: PKIX public keys, certificates, PKCS#1 / PKCS#8 RSA
//     private keys and SEC 1 / PKCS#8 EC private keys
//   - JSON Web Keys, either a single key or a set holding exactly one key
//   - anything else is taken as a raw HMAC secret of at least
//     [MinSecretLength] bytes
//
// A private key is accepted wherever a public key is expected; only its
// public half is used for verification.
package keys

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
)

// Family identifies the kind of key held by a [Material]. Signature
// algorithms are bound to exactly one family.
type Family string

const (
	// FamilyRSA is an RSA key (RS256).
	FamilyRSA Family = "RSA"

	// FamilyECP256 is an ECDSA key on NIST P-256 (ES256).
	FamilyECP256 Family = "EC-P256"

	// FamilyECP384 is an ECDSA key on NIST P-384.
	FamilyECP384 Family = "EC-P384"

	// FamilyECP521 is an ECDSA key on NIST P-521.
	FamilyECP521 Family = "EC-P521"

	// FamilyHMAC is a shared secret (HS256).
	FamilyHMAC Family = "HMAC"
)

// MinSecretLength is the minimum accepted HMAC secret length in bytes,
// matching the output size of SHA-256.
const MinSecretLength = 32

// MinRSABits is the minimum accepted RSA modulus size.
const MinRSABits = 2048

// Material is resolved cryptographic key material. It is immutable; the
// accessors never expose internal buffers.
type Material struct {
	family  Family
	public  crypto.PublicKey
	private crypto.Signer
	secret  []byte
	keyID   string
}

// Family returns the key family.
func (m *Material) Family() Family { return m.family }

// KeyID returns the key identifier, taken from a JWK "kid" or set with
// [Material.WithKeyID]. It may be empty.
func (m *Material) KeyID() string { return m.keyID }

// WithKeyID returns a copy of the material carrying the given key ID.
func (m *Material) WithKeyID(kid string) *Material {
	cp := *m
	cp.keyID = kid
	return &cp
}

// VerificationKey returns the key in the form signature primitives
// expect: *rsa.PublicKey, *ecdsa.PublicKey, or a fresh copy of the HMAC
// secret as []byte.
func (m *Material) VerificationKey() any {
	if m.family == FamilyHMAC {
		return bytes.Clone(m.secret)
	}
	return m.public
}

// PublicKey returns the public key, or nil for HMAC material.
func (m *Material) PublicKey() crypto.PublicKey {
	return m.public
}

// SigningKey returns the private key when the material was loaded from a
// private key.
func (m *Material) SigningKey() (crypto.Signer, bool) {
	return m.private, m.private != nil
}

// String describes the material without revealing key bytes.
func (m *Material) String() string {
	if m.keyID != "" {
		return fmt.Sprintf("keys.Material{family=%s kid=%s}", m.family, m.keyID)
	}
	return fmt.Sprintf("keys.Material{family=%s}", m.family)
}

// GoString matches String so %#v never prints secrets.
func (m *Material) GoString() string { return m.String() }

// FromPublicKey builds material from an RSA or ECDSA public key.
func FromPublicKey(pub crypto.PublicKey) (*Material, error) {
	family, err := familyOf(pub)
	if err != nil {
		return nil, err
	}
	return &Material{family: family, public: pub}, nil
}

// FromPrivateKey builds material from an RSA or ECDSA private key. The
// public half is used for verification; the private key is available
// through [Material.SigningKey].
func FromPrivateKey(priv crypto.Signer) (*Material, error) {
	if priv == nil {
		return nil, sserr.Configuration("keys: private key must not be nil")
	}
	family, err := familyOf(priv.Public())
	if err != nil {
		return nil, err
	}
	return &Material{family: family, public: priv.Public(), private: priv}, nil
}

// FromSecret builds HMAC material. The secret is copied.
func FromSecret(secret []byte) (*Material, error) {
	if len(secret) < MinSecretLength {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"keys: HMAC secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	return &Material{family: FamilyHMAC, secret: bytes.Clone(secret)}, nil
}

// Parse decodes key material from raw bytes. See the package
// documentation for the recognized formats.
func Parse(data []byte) (*Material, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, sserr.Configuration("keys: key material is empty")
	}

	switch {
	case bytes.HasPrefix(trimmed, []byte("-----BEGIN")):
		return ParsePEM(trimmed)
	case trimmed[0] == '{':
		return ParseJWK(trimmed)
	default:
		return FromSecret(trimmed)
	}
}

// ParsePEM decodes the first PEM block in data.
func ParsePEM(data []byte) (*Material, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, sserr.Configuration("keys: no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err := jwt.ParseRSAPrivateKeyFromPEM(data)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "keys: invalid RSA private key")
		}
		return FromPrivateKey(priv)
	case "EC PRIVATE KEY":
		priv, err := jwt.ParseECPrivateKeyFromPEM(data)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "keys: invalid EC private key")
		}
		return FromPrivateKey(priv)
	case "PRIVATE KEY":
		if priv, err := jwt.ParseRSAPrivateKeyFromPEM(data); err == nil {
			return FromPrivateKey(priv)
		}
		priv, err := jwt.ParseECPrivateKeyFromPEM(data)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
				"keys: PKCS#8 private key is neither RSA nor EC")
		}
		return FromPrivateKey(priv)
	case "PUBLIC KEY", "RSA PUBLIC KEY", "CERTIFICATE":
		if pub, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
			return FromPublicKey(pub)
		}
		pub, err := jwt.ParseECPublicKeyFromPEM(data)
		if err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"keys: %s holds neither an RSA nor an EC public key", block.Type)
		}
		return FromPublicKey(pub)
	default:
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"keys: unsupported PEM block type %q", block.Type)
	}
}

// ParseJWK decodes a JSON Web Key, or a JSON Web Key Set containing
// exactly one key.
func ParseJWK(data []byte) (*Material, error) {
	var probe struct {
		Keys json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "keys: invalid JWK JSON")
	}

	var jwk jose.JSONWebKey
	if probe.Keys != nil {
		var set jose.JSONWebKeySet
		if err := json.Unmarshal(data, &set); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "keys: invalid JWK set")
		}
		if len(set.Keys) != 1 {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"keys: JWK set must contain exactly one key, got %d", len(set.Keys))
		}
		jwk = set.Keys[0]
	} else if err := jwk.UnmarshalJSON(data); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "keys: invalid JWK")
	}

	// Valid reports false for symmetric keys, so they skip the check.
	if _, symmetric := jwk.Key.([]byte); !symmetric && !jwk.Valid() {
		return nil, sserr.Configuration("keys: JWK is not valid")
	}

	var (
		m   *Material
		err error
	)
	switch k := jwk.Key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		m, err = FromPublicKey(k)
	case *rsa.PrivateKey:
		m, err = FromPrivateKey(k)
	case *ecdsa.PrivateKey:
		m, err = FromPrivateKey(k)
	case []byte:
		m, err = FromSecret(k)
	default:
		return nil, sserr.Newf(sserr.CodeInternalConfiguration, "keys: unsupported JWK key type %T", jwk.Key)
	}
	if err != nil {
		return nil, err
	}
	return m.WithKeyID(jwk.KeyID), nil
}

func familyOf(pub crypto.PublicKey) (Family, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if k == nil || k.N == nil {
			return "", sserr.Configuration("keys: RSA public key is empty")
		}
		if k.N.BitLen() < MinRSABits {
			return "", sserr.Newf(sserr.CodeInternalConfiguration,
				"keys: RSA key must be at least %d bits, got %d", MinRSABits, k.N.BitLen())
		}
		return FamilyRSA, nil
	case *ecdsa.PublicKey:
		if k == nil || k.Curve == nil {
			return "", sserr.Configuration("keys: EC public key is empty")
		}
		switch k.Curve {
		case elliptic.P256():
			return FamilyECP256, nil
		case elliptic.P384():
			return FamilyECP384, nil
		case elliptic.P521():
			return FamilyECP521, nil
		}
		return "", sserr.Newf(sserr.CodeInternalConfiguration,
			"keys: unsupported EC curve %s", k.Curve.Params().Name)
	default:
		return "", sserr.Newf(sserr.CodeInternalConfiguration, "keys: unsupported key type %T", pub)
	}
}
