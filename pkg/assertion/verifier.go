package assertion

import (
	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/keys"
)

// signatureVerifier verifies one algorithm with the golang-jwt
// primitives. The key family is checked first, so an HMAC algorithm is
// never computed with bytes that belong to an asymmetric key.
type signatureVerifier struct {
	alg    string
	family keys.Family
	method jwt.SigningMethod
}

// Verify implements [Verifier]. Every failure is
// [sserr.CodeSignatureInvalid].
func (v signatureVerifier) Verify(signingInput string, signature []byte, key *keys.Material) error {
	if key == nil {
		return sserr.New(sserr.CodeSignatureInvalid, "assertion: no key material")
	}
	if key.Family() != v.family {
		return sserr.New(sserr.CodeSignatureInvalid, "assertion: key does not match algorithm").
			WithDetails(map[string]any{"alg": v.alg, "key_family": string(key.Family())})
	}
	if len(signature) == 0 {
		return sserr.New(sserr.CodeSignatureInvalid, "assertion: signature is empty")
	}
	if err := v.method.Verify(signingInput, signature, key.VerificationKey()); err != nil {
		return sserr.Wrap(err, sserr.CodeSignatureInvalid, "assertion: signature verification failed")
	}
	return nil
}

// verifySignature runs the verifier and normalizes any error it returns,
// including those of injected verifiers, to SignatureInvalid.
func verifySignature(v Verifier, tok *Token, key *keys.Material) *sserr.Error {
	err := v.Verify(tok.signingInput, tok.signature, key)
	if err == nil {
		return nil
	}
	if e, ok := sserr.AsError(err); ok && e.Code == sserr.CodeSignatureInvalid {
		return e
	}
	return sserr.Wrap(err, sserr.CodeSignatureInvalid, "assertion: signature verification failed")
}
