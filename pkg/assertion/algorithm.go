package assertion

import (
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/keys"
)

// Algorithm identifiers this package can verify.
const (
	RS256 = "RS256"
	HS256 = "HS256"
	ES256 = "ES256"
)

// DefaultAlgorithms returns the default allow-list.
func DefaultAlgorithms() []string {
	return []string{RS256, HS256, ES256}
}

// Verifier checks a signature over the signing input with the given key
// material. Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(signingInput string, signature []byte, key *keys.Material) error
}

// known binds each verifiable algorithm to its key family and primitive.
// Names missing here, "none" included, can never be registered.
var known = map[string]signatureVerifier{
	RS256: {alg: RS256, family: keys.FamilyRSA, method: jwt.SigningMethodRS256},
	HS256: {alg: HS256, family: keys.FamilyHMAC, method: jwt.SigningMethodHS256},
	ES256: {alg: ES256, family: keys.FamilyECP256, method: jwt.SigningMethodES256},
}

// Registry maps allow-listed algorithm identifiers to their verifiers.
// It is built once and is read-only afterwards, so it is safe to share
// across goroutines.
type Registry struct {
	verifiers map[string]Verifier
}

// RegistryOption configures a [Registry].
type RegistryOption func(*registryBuild)

type registryBuild struct {
	overrides map[string]Verifier
}

// WithVerifier replaces the verifier for an allow-listed algorithm. The
// algorithm must also appear in the allow-list passed to [NewRegistry].
func WithVerifier(alg string, v Verifier) RegistryOption {
	return func(b *registryBuild) { b.overrides[alg] = v }
}

// NewRegistry builds a registry from an allow-list. Every name must be
// one this package can verify; an empty list or an unknown name is a
// [sserr.CodeInternalConfiguration] error.
func NewRegistry(allowed []string, opts ...RegistryOption) (*Registry, error) {
	if len(allowed) == 0 {
		return nil, sserr.Configuration("assertion: algorithm allow-list must not be empty")
	}

	b := &registryBuild{overrides: make(map[string]Verifier)}
	for _, opt := range opts {
		opt(b)
	}

	r := &Registry{verifiers: make(map[string]Verifier, len(allowed))}
	for _, alg := range allowed {
		v, ok := known[alg]
		if !ok {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"assertion: algorithm %q cannot be allow-listed", alg)
		}
		r.verifiers[alg] = v
	}

	for alg, v := range b.overrides {
		if _, ok := r.verifiers[alg]; !ok {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"assertion: verifier override for %q which is not allow-listed", alg)
		}
		if v == nil {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"assertion: verifier override for %q is nil", alg)
		}
		r.verifiers[alg] = v
	}
	return r, nil
}

// Algorithms returns the allow-listed identifiers in sorted order.
func (r *Registry) Algorithms() []string {
	algs := make([]string, 0, len(r.verifiers))
	for alg := range r.verifiers {
		algs = append(algs, alg)
	}
	slices.Sort(algs)
	return algs
}

// Allows reports whether alg is allow-listed.
func (r *Registry) Allows(alg string) bool {
	_, ok := r.verifiers[alg]
	return ok
}

// Lookup returns the verifier for alg, failing with
// [sserr.CodeUnsupportedAlgorithm] when alg is not allow-listed.
func (r *Registry) Lookup(alg string) (Verifier, error) {
	v, ok := r.verifiers[alg]
	if !ok {
		return nil, sserr.New(sserr.CodeUnsupportedAlgorithm, "assertion: algorithm is not allowed").
			WithDetail("alg", truncate(alg, 32))
	}
	return v, nil
}

// Accept reads the "alg" header of tok and returns the algorithm and its
// verifier. It does no cryptographic work. A "crit" header is always
// rejected: no header extensions are understood.
func (r *Registry) Accept(tok *Token) (string, Verifier, error) {
	if crit, ok := tok.header["crit"]; ok {
		return "", nil, sserr.New(sserr.CodeUnsupportedAlgorithm, "assertion: critical header extensions are not supported").
			WithDetail("crit", truncate(fmt.Sprint(crit), 64))
	}
	raw, ok := tok.header["alg"]
	if !ok {
		return "", nil, sserr.New(sserr.CodeUnsupportedAlgorithm, "assertion: alg header is missing")
	}
	alg, ok := raw.(string)
	if !ok {
		return "", nil, sserr.New(sserr.CodeUnsupportedAlgorithm, "assertion: alg header is not a string")
	}
	v, err := r.Lookup(alg)
	if err != nil {
		return "", nil, err
	}
	return alg, v, nil
}

// KnownAlgorithms lists every algorithm that may appear in an allow-list.
func KnownAlgorithms() []string {
	algs := make([]string, 0, len(known))
	for alg := range known {
		algs = append(algs, alg)
	}
	slices.Sort(algs)
	return algs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
