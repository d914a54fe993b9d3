package assertion

import (
	"encoding/json"
	"math"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
)

// ClaimSet is a decoded assertion payload. It is immutable: accessors
// return copies, never internal state.
type ClaimSet struct {
	claims jwt.MapClaims
}

// Issuer returns the "iss" claim, or "" when absent or not a string.
func (c *ClaimSet) Issuer() string {
	iss, _ := c.claims.GetIssuer()
	return iss
}

// Subject returns the "sub" claim, or "" when absent or not a string.
func (c *ClaimSet) Subject() string {
	sub, _ := c.claims.GetSubject()
	return sub
}

// Audience returns the "aud" claim as a list.
func (c *ClaimSet) Audience() []string {
	aud, _ := c.claims.GetAudience()
	return slices.Clone([]string(aud))
}

// ExpiresAt returns the "exp" claim. A validated ClaimSet always has one.
func (c *ClaimSet) ExpiresAt() time.Time {
	t, _, _ := numericClaim(c.claims, "exp")
	return t
}

// NotBefore returns the "nbf" claim, or the zero time when absent.
func (c *ClaimSet) NotBefore() time.Time {
	t, _, _ := numericClaim(c.claims, "nbf")
	return t
}

// IssuedAt returns the "iat" claim, or the zero time when absent.
func (c *ClaimSet) IssuedAt() time.Time {
	t, _, _ := numericClaim(c.claims, "iat")
	return t
}

// Get returns a copy of an arbitrary claim value.
func (c *ClaimSet) Get(name string) (any, bool) {
	v, ok := c.claims[name]
	return copyValue(v), ok
}

// Map returns a deep copy of every claim.
func (c *ClaimSet) Map() map[string]any {
	return copyMap(c.claims)
}

// ClaimsPolicy holds the claim checks configured for a grant.
type ClaimsPolicy struct {
	// Audience, when non-empty, must appear in the "aud" claim.
	Audience string

	// ClockSkew widens the nbf and exp windows by this amount.
	ClockSkew time.Duration
}

// ClaimPredicate is one independent claim check. It reads the claim set
// and the single instant captured for the run.
type ClaimPredicate func(c *ClaimSet, now time.Time, policy ClaimsPolicy) *sserr.Error

// claimPredicates run in order after the payload decodes; the first
// failure wins. Expiration precedes not-before so an expired token is
// reported as expired whatever its nbf says.
var claimPredicates = []ClaimPredicate{
	CheckIssuedAt,
	CheckExpiration,
	CheckNotBefore,
	CheckAudience,
}

// DecodeClaims decodes payload as a JSON object, failing with
// [sserr.CodeMalformedClaims] otherwise.
func DecodeClaims(payload []byte) (*ClaimSet, *sserr.Error) {
	obj, err := decodeObject(payload)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeMalformedClaims, "assertion: payload is not a JSON object")
	}
	return &ClaimSet{claims: jwt.MapClaims(obj)}, nil
}

// CheckClaims decodes payload and evaluates every claim predicate against
// now. The returned ClaimSet is the decoded payload, unchanged.
func CheckClaims(payload []byte, now time.Time, policy ClaimsPolicy) (*ClaimSet, *sserr.Error) {
	cs, err := DecodeClaims(payload)
	if err != nil {
		return nil, err
	}
	for _, check := range claimPredicates {
		if err := check(cs, now, policy); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

// CheckIssuedAt requires "iat", when present, to be a number. It does
// not otherwise constrain the token.
func CheckIssuedAt(c *ClaimSet, _ time.Time, _ ClaimsPolicy) *sserr.Error {
	_, _, err := numericClaim(c.claims, "iat")
	return err
}

// CheckNotBefore rejects a token whose "nbf" lies beyond now plus the
// clock skew.
func CheckNotBefore(c *ClaimSet, now time.Time, policy ClaimsPolicy) *sserr.Error {
	nbf, ok, err := numericClaim(c.claims, "nbf")
	if err != nil || !ok {
		return err
	}
	if now.Add(policy.ClockSkew).Before(nbf) {
		return sserr.New(sserr.CodeTokenNotYetValid, "assertion: token is not yet valid")
	}
	return nil
}

// CheckExpiration requires "exp" and rejects the token once now minus
// the clock skew reaches it.
func CheckExpiration(c *ClaimSet, now time.Time, policy ClaimsPolicy) *sserr.Error {
	exp, ok, err := numericClaim(c.claims, "exp")
	if err != nil {
		return err
	}
	if !ok {
		return sserr.New(sserr.CodeMissingExpiration, "assertion: exp claim is required")
	}
	if !now.Add(-policy.ClockSkew).Before(exp) {
		return sserr.New(sserr.CodeTokenExpired, "assertion: token has expired")
	}
	return nil
}

// CheckAudience requires the configured audience to appear in "aud". It
// is a no-op when no audience is configured.
func CheckAudience(c *ClaimSet, _ time.Time, policy ClaimsPolicy) *sserr.Error {
	if policy.Audience == "" {
		return nil
	}
	aud, err := c.claims.GetAudience()
	if err != nil {
		return sserr.Wrap(err, sserr.CodeAudienceMismatch, "assertion: aud claim is not usable")
	}
	if !slices.Contains([]string(aud), policy.Audience) {
		return sserr.New(sserr.CodeAudienceMismatch, "assertion: token is not intended for this audience")
	}
	return nil
}

// numericClaim reads a NumericDate claim. Absent is (zero, false, nil);
// any non-numeric or non-finite value is MalformedClaims. Values past
// year 9999 in either direction are clamped to it.
func numericClaim(claims jwt.MapClaims, name string) (time.Time, bool, *sserr.Error) {
	raw, ok := claims[name]
	if !ok {
		return time.Time{}, false, nil
	}

	var f float64
	switch v := raw.(type) {
	case json.Number:
		var err error
		if f, err = v.Float64(); err != nil {
			return time.Time{}, false, sserr.Wrapf(err, sserr.CodeMalformedClaims,
				"assertion: %s claim is not a usable number", name)
		}
	case float64:
		f = v
	default:
		return time.Time{}, false, sserr.Newf(sserr.CodeMalformedClaims,
			"assertion: %s claim must be a number", name)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false, sserr.Newf(sserr.CodeMalformedClaims,
			"assertion: %s claim is not finite", name)
	}
	f = max(-maxNumericDate, min(f, maxNumericDate))

	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true, nil
}

// maxNumericDate bounds timestamps to year 9999 so conversion to int64
// seconds cannot overflow.
const maxNumericDate = 253402300799

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
