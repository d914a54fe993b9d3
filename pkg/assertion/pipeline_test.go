package assertion

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/StricklySoft/stricklysoft-jwtbearer/internal/testutil"
	"github.com/StricklySoft/stricklysoft-jwtbearer/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/keys"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// countingVerifier records how often it is invoked and returns err.
type countingVerifier struct {
	calls atomic.Int64
	err   error
}

func (v *countingVerifier) Verify(string, []byte, *keys.Material) error {
	v.calls.Add(1)
	return v.err
}

func (v *countingVerifier) Calls() int { return int(v.calls.Load()) }

func fixedClock() time.Time { return fixtures.Now }

func rsaMaterial(t *testing.T) *keys.Material {
	t.Helper()
	m, err := keys.FromPublicKey(&fixtures.RSAKey().PublicKey)
	require.NoError(t, err)
	return m
}

func newPipeline(t *testing.T, key *keys.Material, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(key, append([]Option{WithClock(fixedClock)}, opts...)...)
	require.NoError(t, err)
	return p
}

// tamper flips one character of the payload segment.
func tamper(raw string) string {
	parts := strings.Split(raw, ".")
	b := []byte(parts[1])
	if b[2] == 'A' {
		b[2] = 'B'
	} else {
		b[2] = 'A'
	}
	parts[1] = string(b)
	return strings.Join(parts, ".")
}

// ===========================================================================
// Construction
// ===========================================================================

func TestNewPipeline_Defaults(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline(rsaMaterial(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"ES256", "HS256", "RS256"}, p.Algorithms())
	assert.Equal(t, ClaimsPolicy{}, p.Policy())
}

func TestNewPipeline_Options(t *testing.T) {
	t.Parallel()
	reg, err := NewRegistry([]string{RS256})
	require.NoError(t, err)

	p := newPipeline(t, rsaMaterial(t),
		WithRegistry(reg),
		WithAudience(fixtures.Audience),
		WithClockSkew(30*time.Second),
		WithLogger(nil),
		WithTracer(nil),
	)
	assert.Equal(t, []string{"RS256"}, p.Algorithms())
	assert.Equal(t, ClaimsPolicy{Audience: fixtures.Audience, ClockSkew: 30 * time.Second}, p.Policy())
}

func TestNewPipeline_ConfigurationErrors(t *testing.T) {
	t.Parallel()
	key := rsaMaterial(t)

	_, err := NewPipeline(nil)
	testutil.AssertErrorCode(t, err, sserr.CodeInternalConfiguration)

	_, err = NewPipeline(key, WithClockSkew(-time.Second))
	testutil.AssertErrorCode(t, err, sserr.CodeInternalConfiguration)

	_, err = NewPipeline(key, WithClock(nil))
	testutil.AssertErrorCode(t, err, sserr.CodeInternalConfiguration)
}

// ===========================================================================
// State machine
// ===========================================================================

func TestValidTransition(t *testing.T) {
	t.Parallel()
	order := []State{StateReceived, StateParsed, StateAlgorithmAccepted, StateSignatureVerified, StateClaimsValid}

	for i := 0; i < len(order)-1; i++ {
		assert.True(t, ValidTransition(order[i], order[i+1]), "%s -> %s", order[i], order[i+1])
		assert.True(t, ValidTransition(order[i], StateRejected), "%s -> rejected", order[i])
		assert.False(t, order[i].IsTerminal())
	}

	assert.False(t, ValidTransition(StateReceived, StateSignatureVerified))
	assert.False(t, ValidTransition(StateParsed, StateClaimsValid))
	assert.False(t, ValidTransition(StateAlgorithmAccepted, StateParsed))
	assert.False(t, ValidTransition(StateRejected, StateParsed))
	assert.False(t, ValidTransition(StateClaimsValid, StateRejected))
	assert.True(t, StateClaimsValid.IsTerminal())
	assert.True(t, StateRejected.IsTerminal())
}

func TestOutcome_ZeroValue(t *testing.T) {
	t.Parallel()
	var o Outcome
	assert.False(t, o.Valid())
	assert.Equal(t, StateRejected, o.State())
	testutil.AssertErrorCode(t, o.Err(), sserr.CodeInternal)
	claims, err := o.Result()
	assert.Nil(t, claims)
	assert.Error(t, err)
}

// ===========================================================================
// End to end
// ===========================================================================

func TestValidate_AcceptsEachAlgorithm(t *testing.T) {
	t.Parallel()
	ecMat, err := keys.FromPublicKey(&fixtures.ECKey().PublicKey)
	require.NoError(t, err)
	hmacMat, err := keys.FromSecret(fixtures.HMACSecret)
	require.NoError(t, err)

	claims := fixtures.ValidClaims(fixtures.Now)
	tests := []struct {
		alg   string
		key   *keys.Material
		token string
	}{
		{RS256, rsaMaterial(t), fixtures.SignRS256(t, claims)},
		{ES256, ecMat, fixtures.SignES256(t, claims)},
		{HS256, hmacMat, fixtures.SignHS256(t, claims)},
	}
	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			t.Parallel()
			out := newPipeline(t, tt.key, WithAudience(fixtures.Audience)).Validate(context.Background(), tt.token)

			require.True(t, out.Valid(), "reason=%s", out.Reason())
			assert.Equal(t, StateClaimsValid, out.State())
			assert.Equal(t, tt.alg, out.Algorithm())
			assert.Empty(t, out.Reason())
			assert.Empty(t, out.FailedAt())
			assert.NoError(t, out.Err())

			cs, err := out.Result()
			require.NoError(t, err)
			assert.Equal(t, fixtures.Issuer, cs.Issuer())
			assert.Equal(t, fixtures.Subject, cs.Subject())
		})
	}
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()
	now := fixtures.Now
	valid := fixtures.ValidClaims(now)
	good := fixtures.SignRS256(t, valid)

	tests := []struct {
		name     string
		token    string
		code     sserr.Code
		failedAt State
	}{
		{"malformed", "not-a-token", sserr.CodeMalformedToken, StateReceived},
		{"alg none", fixtures.Unsigned(t, map[string]any{"alg": "none"}, valid), sserr.CodeUnsupportedAlgorithm, StateParsed},
		{"alg missing", fixtures.Unsigned(t, map[string]any{"typ": "JWT"}, valid), sserr.CodeUnsupportedAlgorithm, StateParsed},
		{"crit header", fixtures.Sign(t, jwt.SigningMethodRS256, fixtures.RSAKey(), valid, map[string]any{"crit": []string{"x-unknown"}, "x-unknown": true}), sserr.CodeUnsupportedAlgorithm, StateParsed},
		{"empty crit header", fixtures.Sign(t, jwt.SigningMethodRS256, fixtures.RSAKey(), valid, map[string]any{"crit": []string{}}), sserr.CodeUnsupportedAlgorithm, StateParsed},
		{"tampered payload", tamper(good), sserr.CodeSignatureInvalid, StateAlgorithmAccepted},
		{"signed by other key", fixtures.Sign(t, jwt.SigningMethodRS256, fixtures.OtherRSAKey(), valid, nil), sserr.CodeSignatureInvalid, StateAlgorithmAccepted},
		{"ES256 token against RSA key", fixtures.SignES256(t, valid), sserr.CodeSignatureInvalid, StateAlgorithmAccepted},
		{"HS256 with public key bytes", fixtures.Sign(t, jwt.SigningMethodHS256, fixtures.PublicKeyPEM(t, &fixtures.RSAKey().PublicKey), valid, nil), sserr.CodeSignatureInvalid, StateAlgorithmAccepted},
		{"payload not an object", fixtures.Sign(t, jwt.SigningMethodRS256, fixtures.RSAKey(), nil, nil), sserr.CodeMalformedClaims, StateSignatureVerified},
		{"expired", fixtures.SignRS256(t, valid.With("exp", now.Add(-time.Minute).Unix())), sserr.CodeTokenExpired, StateSignatureVerified},
		{"not yet valid", fixtures.SignRS256(t, valid.With("nbf", now.Add(time.Minute).Unix())), sserr.CodeTokenNotYetValid, StateSignatureVerified},
		{"missing exp", fixtures.SignRS256(t, valid.Without("exp")), sserr.CodeMissingExpiration, StateSignatureVerified},
		{"wrong audience", fixtures.SignRS256(t, valid.With("aud", fixtures.WrongAudience)), sserr.CodeAudienceMismatch, StateSignatureVerified},
	}

	p := newPipeline(t, rsaMaterial(t), WithAudience(fixtures.Audience))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := p.Validate(context.Background(), tt.token)

			assert.False(t, out.Valid())
			assert.Equal(t, StateRejected, out.State())
			assert.Equal(t, tt.code, out.Reason())
			assert.Equal(t, tt.failedAt, out.FailedAt())
			testutil.AssertErrorCode(t, out.Err(), tt.code)

			cs, err := out.Result()
			assert.Nil(t, cs)
			assert.Error(t, err)
		})
	}
}

func TestValidate_AudienceCheckDisabledWithoutPolicy(t *testing.T) {
	t.Parallel()
	token := fixtures.SignRS256(t, fixtures.ValidClaims(fixtures.Now).With("aud", fixtures.WrongAudience))

	assert.True(t, newPipeline(t, rsaMaterial(t)).Validate(context.Background(), token).Valid())
	assert.Equal(t, sserr.CodeAudienceMismatch,
		newPipeline(t, rsaMaterial(t), WithAudience(fixtures.Audience)).Validate(context.Background(), token).Reason())
}

func TestValidate_ExpiredRegardlessOfNotBeforeAndAudience(t *testing.T) {
	t.Parallel()
	now := fixtures.Now
	token := fixtures.SignRS256(t, fixtures.ValidClaims(now).
		With("exp", now.Add(-time.Second).Unix()).
		With("nbf", now.Add(time.Hour).Unix()).
		With("aud", fixtures.WrongAudience))

	out := newPipeline(t, rsaMaterial(t), WithAudience(fixtures.Audience)).Validate(context.Background(), token)
	assert.Equal(t, sserr.CodeTokenExpired, out.Reason())
}

func TestValidate_ClockSkew(t *testing.T) {
	t.Parallel()
	now := fixtures.Now
	expired := fixtures.SignRS256(t, fixtures.ValidClaims(now).With("exp", now.Add(-10*time.Second).Unix()))
	early := fixtures.SignRS256(t, fixtures.ValidClaims(now).With("nbf", now.Add(10*time.Second).Unix()))

	strict := newPipeline(t, rsaMaterial(t))
	lenient := newPipeline(t, rsaMaterial(t), WithClockSkew(time.Minute))

	assert.Equal(t, sserr.CodeTokenExpired, strict.Validate(context.Background(), expired).Reason())
	assert.Equal(t, sserr.CodeTokenNotYetValid, strict.Validate(context.Background(), early).Reason())
	assert.True(t, lenient.Validate(context.Background(), expired).Valid())
	assert.True(t, lenient.Validate(context.Background(), early).Valid())
}

// ===========================================================================
// Algorithm gating
// ===========================================================================

func TestValidate_UnsupportedAlgorithmNeverReachesVerifier(t *testing.T) {
	t.Parallel()
	spy := &countingVerifier{}
	reg, err := NewRegistry([]string{RS256}, WithVerifier(RS256, spy))
	require.NoError(t, err)
	p := newPipeline(t, rsaMaterial(t), WithRegistry(reg))

	valid := fixtures.ValidClaims(fixtures.Now)
	for _, token := range []string{
		fixtures.Unsigned(t, map[string]any{"alg": "none"}, valid),
		fixtures.Unsigned(t, map[string]any{"alg": "NONE"}, valid),
		fixtures.Unsigned(t, map[string]any{"alg": 1}, valid),
		fixtures.Unsigned(t, map[string]any{}, valid),
		fixtures.SignES256(t, valid),
		fixtures.SignHS256(t, valid),
	} {
		out := p.Validate(context.Background(), token)
		assert.Equal(t, sserr.CodeUnsupportedAlgorithm, out.Reason())
		assert.Empty(t, out.Algorithm())
	}
	assert.Zero(t, spy.Calls())

	out := p.Validate(context.Background(), fixtures.SignRS256(t, valid))
	assert.True(t, out.Valid())
	assert.Equal(t, 1, spy.Calls())
}

func TestValidate_ES256TokenAgainstRSAKey(t *testing.T) {
	t.Parallel()
	token := fixtures.SignES256(t, fixtures.ValidClaims(fixtures.Now))

	out := newPipeline(t, rsaMaterial(t)).Validate(context.Background(), token)
	assert.Equal(t, sserr.CodeSignatureInvalid, out.Reason())
	assert.Equal(t, ES256, out.Algorithm())

	rsOnly, err := NewRegistry([]string{RS256})
	require.NoError(t, err)
	out = newPipeline(t, rsaMaterial(t), WithRegistry(rsOnly)).Validate(context.Background(), token)
	assert.Equal(t, sserr.CodeUnsupportedAlgorithm, out.Reason())
}

// ===========================================================================
// Determinism
// ===========================================================================

func TestValidate_Idempotent(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, rsaMaterial(t), WithAudience(fixtures.Audience))
	tokens := []string{
		fixtures.SignRS256(t, fixtures.ValidClaims(fixtures.Now)),
		fixtures.SignRS256(t, fixtures.ValidClaims(fixtures.Now).With("aud", fixtures.WrongAudience)),
		"garbage",
	}

	for _, token := range tokens {
		first := p.Validate(context.Background(), token)
		for i := 0; i < 5; i++ {
			again := p.Validate(context.Background(), token)
			assert.Equal(t, first.Valid(), again.Valid())
			assert.Equal(t, first.Reason(), again.Reason())
			assert.Equal(t, first.FailedAt(), again.FailedAt())
			assert.Equal(t, first.Algorithm(), again.Algorithm())
		}
	}
}

func TestValidate_ReadsClockOnce(t *testing.T) {
	t.Parallel()
	var reads atomic.Int64
	p := newPipeline(t, rsaMaterial(t), WithClock(func() time.Time {
		reads.Add(1)
		return fixtures.Now
	}))

	p.Validate(context.Background(), fixtures.SignRS256(t, fixtures.ValidClaims(fixtures.Now)))
	assert.Equal(t, int64(1), reads.Load())
}

func TestValidate_Concurrent(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, rsaMaterial(t), WithAudience(fixtures.Audience))
	good := fixtures.SignRS256(t, fixtures.ValidClaims(fixtures.Now))
	bad := tamper(good)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.True(t, p.Validate(context.Background(), good).Valid())
			} else {
				assert.Equal(t, sserr.CodeSignatureInvalid, p.Validate(context.Background(), bad).Reason())
			}
		}(i)
	}
	wg.Wait()
}

// ===========================================================================
// Tracing
// ===========================================================================

func TestValidate_RecordsSpan(t *testing.T) {
	t.Parallel()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := newPipeline(t, rsaMaterial(t), WithTracer(tp.Tracer(tracerName)), WithAudience(fixtures.Audience))
	p.Validate(context.Background(), fixtures.SignRS256(t, fixtures.ValidClaims(fixtures.Now)))
	p.Validate(context.Background(), fixtures.SignRS256(t, fixtures.ValidClaims(fixtures.Now).With("aud", fixtures.WrongAudience)))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	attrs := func(s tracetest.SpanStub) map[attribute.Key]string {
		m := make(map[attribute.Key]string)
		for _, kv := range s.Attributes {
			m[kv.Key] = kv.Value.AsString()
		}
		return m
	}

	ok := attrs(spans[0])
	assert.Equal(t, "assertion.Validate", spans[0].Name)
	assert.Equal(t, "claims_valid", ok["assertion.state"])
	assert.Equal(t, "RS256", ok["assertion.alg"])
	assert.NotContains(t, ok, attribute.Key("assertion.reason"))
	assert.NotEqual(t, codes.Error, spans[0].Status.Code)

	rejected := attrs(spans[1])
	assert.Equal(t, "rejected", rejected["assertion.state"])
	assert.Equal(t, string(sserr.CodeAudienceMismatch), rejected["assertion.reason"])
	assert.Equal(t, "signature_verified", rejected["assertion.failed_at"])
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.NotEmpty(t, spans[1].Events)
}
