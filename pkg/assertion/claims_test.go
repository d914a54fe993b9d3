package assertion

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-jwtbearer/internal/testutil"
	"github.com/StricklySoft/stricklysoft-jwtbearer/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
)

func payloadOf(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// ===========================================================================
// Predicates
// ===========================================================================

func TestCheckClaims(t *testing.T) {
	t.Parallel()
	now := fixtures.Now
	valid := fixtures.ValidClaims(now)
	audience := ClaimsPolicy{Audience: fixtures.Audience}
	skewed := ClaimsPolicy{ClockSkew: time.Minute}

	tests := []struct {
		name    string
		payload []byte
		policy  ClaimsPolicy
		code    sserr.Code
	}{
		{"valid", payloadOf(t, valid), ClaimsPolicy{}, ""},
		{"valid with audience", payloadOf(t, valid), audience, ""},
		{"only exp", payloadOf(t, fixtures.Claims{"exp": now.Add(time.Minute).Unix()}), ClaimsPolicy{}, ""},
		{"fractional exp", payloadOf(t, fixtures.Claims{"exp": float64(now.Unix()) + 0.5}), ClaimsPolicy{}, ""},

		{"payload not json", []byte("{iss"), ClaimsPolicy{}, sserr.CodeMalformedClaims},
		{"payload is array", []byte(`["exp"]`), ClaimsPolicy{}, sserr.CodeMalformedClaims},
		{"payload is null", []byte("null"), ClaimsPolicy{}, sserr.CodeMalformedClaims},
		{"payload has trailing data", []byte(`{"exp":1}x`), ClaimsPolicy{}, sserr.CodeMalformedClaims},

		{"iat is string", payloadOf(t, valid.With("iat", "yesterday")), ClaimsPolicy{}, sserr.CodeMalformedClaims},
		{"iat in the future is informational", payloadOf(t, valid.With("iat", now.Add(24*time.Hour).Unix())), ClaimsPolicy{}, ""},

		{"exp missing", payloadOf(t, valid.Without("exp")), ClaimsPolicy{}, sserr.CodeMissingExpiration},
		{"exp is string", payloadOf(t, valid.With("exp", "tomorrow")), ClaimsPolicy{}, sserr.CodeMalformedClaims},
		{"exp is bool", payloadOf(t, valid.With("exp", true)), ClaimsPolicy{}, sserr.CodeMalformedClaims},
		{"exp far future", []byte(`{"exp":1e12}`), ClaimsPolicy{}, ""},
		{"exp beyond year 9999", []byte(`{"exp":1e300}`), ClaimsPolicy{}, ""},
		{"exp far past", []byte(`{"exp":-1e300}`), ClaimsPolicy{}, sserr.CodeTokenExpired},
		{"exp overflows float64", []byte(`{"exp":1e400}`), ClaimsPolicy{}, sserr.CodeMalformedClaims},
		{"nbf beyond year 9999", []byte(`{"exp":1e300,"nbf":1e300}`), ClaimsPolicy{}, sserr.CodeTokenNotYetValid},
		{"exp equals now", payloadOf(t, valid.With("exp", now.Unix())), ClaimsPolicy{}, sserr.CodeTokenExpired},
		{"exp in the past", payloadOf(t, valid.With("exp", now.Add(-time.Second).Unix())), ClaimsPolicy{}, sserr.CodeTokenExpired},
		{"exp within skew", payloadOf(t, valid.With("exp", now.Add(-30*time.Second).Unix())), skewed, ""},
		{"exp beyond skew", payloadOf(t, valid.With("exp", now.Add(-time.Minute).Unix())), skewed, sserr.CodeTokenExpired},

		{"nbf equals now", payloadOf(t, valid.With("nbf", now.Unix())), ClaimsPolicy{}, ""},
		{"nbf in the future", payloadOf(t, valid.With("nbf", now.Add(time.Second).Unix())), ClaimsPolicy{}, sserr.CodeTokenNotYetValid},
		{"nbf within skew", payloadOf(t, valid.With("nbf", now.Add(30*time.Second).Unix())), skewed, ""},
		{"nbf beyond skew", payloadOf(t, valid.With("nbf", now.Add(2*time.Minute).Unix())), skewed, sserr.CodeTokenNotYetValid},
		{"nbf is string", payloadOf(t, valid.With("nbf", "now")), ClaimsPolicy{}, sserr.CodeMalformedClaims},

		{"aud wrong", payloadOf(t, valid.With("aud", fixtures.WrongAudience)), audience, sserr.CodeAudienceMismatch},
		{"aud missing", payloadOf(t, valid.Without("aud")), audience, sserr.CodeAudienceMismatch},
		{"aud list contains", payloadOf(t, valid.With("aud", []string{fixtures.WrongAudience, fixtures.Audience})), audience, ""},
		{"aud list lacks", payloadOf(t, valid.With("aud", []string{fixtures.WrongAudience})), audience, sserr.CodeAudienceMismatch},
		{"aud empty list", payloadOf(t, valid.With("aud", []string{})), audience, sserr.CodeAudienceMismatch},
		{"aud is number", payloadOf(t, valid.With("aud", 42)), audience, sserr.CodeAudienceMismatch},
		{"aud list has number", payloadOf(t, valid.With("aud", []any{fixtures.Audience, 42})), audience, sserr.CodeAudienceMismatch},
		{"aud is object", payloadOf(t, valid.With("aud", map[string]any{"v": fixtures.Audience})), audience, sserr.CodeAudienceMismatch},
		{"aud ignored without policy", payloadOf(t, valid.With("aud", 42)), ClaimsPolicy{}, ""},
		{"aud case sensitive", payloadOf(t, valid.With("aud", "your app")), audience, sserr.CodeAudienceMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cs, err := CheckClaims(tt.payload, now, tt.policy)
			if tt.code == "" {
				require.Nil(t, err)
				assert.NotNil(t, cs)
				return
			}
			assert.Nil(t, cs)
			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code, err.Message)
		})
	}
}

func TestCheckClaims_ExpiredWinsOverNotBeforeAndAudience(t *testing.T) {
	t.Parallel()
	now := fixtures.Now
	claims := fixtures.ValidClaims(now).
		With("exp", now.Add(-time.Hour).Unix()).
		With("nbf", now.Add(time.Hour).Unix()).
		With("aud", fixtures.WrongAudience)

	_, err := CheckClaims(payloadOf(t, claims), now, ClaimsPolicy{Audience: fixtures.Audience})
	require.NotNil(t, err)
	assert.Equal(t, sserr.CodeTokenExpired, err.Code)
}

func TestCheckClaims_NotBeforeWinsOverAudience(t *testing.T) {
	t.Parallel()
	now := fixtures.Now
	claims := fixtures.ValidClaims(now).
		With("nbf", now.Add(time.Minute).Unix()).
		With("aud", fixtures.WrongAudience)

	_, err := CheckClaims(payloadOf(t, claims), now, ClaimsPolicy{Audience: fixtures.Audience})
	require.NotNil(t, err)
	assert.Equal(t, sserr.CodeTokenNotYetValid, err.Code)
}

func TestCheckClaims_MissingExpirationReportedBeforeFutureNotBefore(t *testing.T) {
	t.Parallel()
	now := fixtures.Now
	claims := fixtures.ValidClaims(now).Without("exp").With("nbf", now.Add(time.Hour).Unix())

	_, err := CheckClaims(payloadOf(t, claims), now, ClaimsPolicy{})
	testutil.AssertErrorCode(t, err, sserr.CodeMissingExpiration)
}

// ===========================================================================
// ClaimSet
// ===========================================================================

func TestClaimSet_Accessors(t *testing.T) {
	t.Parallel()
	now := fixtures.Now
	claims := fixtures.ValidClaims(now).With("ctx", map[string]any{"tenant": "acme", "roles": []any{"a"}})

	cs, err := CheckClaims(payloadOf(t, claims), now, ClaimsPolicy{})
	require.Nil(t, err)

	assert.Equal(t, fixtures.Issuer, cs.Issuer())
	assert.Equal(t, fixtures.Subject, cs.Subject())
	assert.Equal(t, []string{fixtures.Audience}, cs.Audience())
	assert.True(t, cs.ExpiresAt().Equal(now.Add(fixtures.AssertionLifetime)))
	assert.True(t, cs.NotBefore().Equal(now))
	assert.True(t, cs.IssuedAt().Equal(now))

	_, ok := cs.Get("missing")
	assert.False(t, ok)

	// Mutating returned values leaves the claim set untouched.
	v, ok := cs.Get("ctx")
	require.True(t, ok)
	v.(map[string]any)["tenant"] = "evil"
	m := cs.Map()
	m["iss"] = "someone else"
	m["ctx"].(map[string]any)["roles"].([]any)[0] = "root"
	cs.Audience()[0] = "mutated"

	again, _ := cs.Get("ctx")
	assert.Equal(t, "acme", again.(map[string]any)["tenant"])
	assert.Equal(t, "a", again.(map[string]any)["roles"].([]any)[0])
	assert.Equal(t, fixtures.Issuer, cs.Issuer())
	assert.Equal(t, []string{fixtures.Audience}, cs.Audience())
}

func TestClaimSet_NonStringIdentity(t *testing.T) {
	t.Parallel()
	cs, err := DecodeClaims([]byte(`{"iss":42,"sub":["x"]}`))
	require.Nil(t, err)

	assert.Empty(t, cs.Issuer())
	assert.Empty(t, cs.Subject())
	assert.True(t, cs.NotBefore().IsZero())
}

func TestClaimSet_PayloadUnchanged(t *testing.T) {
	t.Parallel()
	now := fixtures.Now
	claims := fixtures.ValidClaims(now).With("jti", "abc").With("n", 12345678901234567)

	cs, err := CheckClaims(payloadOf(t, claims), now, ClaimsPolicy{})
	require.Nil(t, err)

	n, ok := cs.Get("n")
	require.True(t, ok)
	assert.Equal(t, json.Number("12345678901234567"), n)
	assert.Len(t, cs.Map(), len(claims))
}
