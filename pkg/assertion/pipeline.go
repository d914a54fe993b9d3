// Package assertion validates JWT bearer assertions (RFC 7523).
//
// A [Pipeline] takes an attacker-controlled compact token through four
// stages in a fixed order, and a token advances only when the previous
// stage accepted it:
//
//	Received -> Parsed -> AlgorithmAccepted -> SignatureVerified -> ClaimsValid
//
// Any stage may instead move the run to Rejected, carrying the error code
// of the first failure. The algorithm allow-list is consulted before any
// cryptographic work, and the signature is verified over the header and
// payload segments exactly as they were serialized.
//
// # Usage
//
//	material, err := keys.Load(ctx, "/etc/jwtbearer/assertion.pem")
//	if err != nil {
//	    return err
//	}
//	p, err := assertion.NewPipeline(material, assertion.WithAudience("Your app"))
//	if err != nil {
//	    return err
//	}
//	claims, err := p.Validate(ctx, raw).Result()
//
// A Pipeline is immutable after construction and safe for concurrent use.
package assertion

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/keys"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/assertion"

// ---------------------------------------------------------------------------
// States
// ---------------------------------------------------------------------------

// State is a stage of a single validation run.
type State string

const (
	// StateReceived is the initial state: a raw assertion string.
	StateReceived State = "received"

	// StateParsed means the token split and decoded cleanly.
	StateParsed State = "parsed"

	// StateAlgorithmAccepted means the declared alg is allow-listed.
	StateAlgorithmAccepted State = "algorithm_accepted"

	// StateSignatureVerified means the signature matched the key material.
	StateSignatureVerified State = "signature_verified"

	// StateClaimsValid is the terminal success state.
	StateClaimsValid State = "claims_valid"

	// StateRejected is the terminal failure state.
	StateRejected State = "rejected"
)

// String returns the state name.
func (s State) String() string { return string(s) }

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateClaimsValid || s == StateRejected
}

// validTransitions lists, for each state, the states a run may move to.
// Every non-terminal state may be rejected.
var validTransitions = map[State][]State{
	StateReceived:          {StateParsed, StateRejected},
	StateParsed:            {StateAlgorithmAccepted, StateRejected},
	StateAlgorithmAccepted: {StateSignatureVerified, StateRejected},
	StateSignatureVerified: {StateClaimsValid, StateRejected},
}

// ValidTransition reports whether a run may move from one state to another.
func ValidTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Outcome
// ---------------------------------------------------------------------------

// Outcome is the result of one validation run: either a validated
// ClaimSet or a rejection with its reason. The claims of a rejected run
// are unreachable.
type Outcome struct {
	claims   *ClaimSet
	err      *sserr.Error
	failedAt State
	alg      string
}

// Valid reports whether the assertion was accepted.
func (o Outcome) Valid() bool { return o.err == nil && o.claims != nil }

// State returns StateClaimsValid or StateRejected.
func (o Outcome) State() State {
	if o.Valid() {
		return StateClaimsValid
	}
	return StateRejected
}

// FailedAt returns the last state reached before rejection, or "" for a
// valid outcome.
func (o Outcome) FailedAt() State { return o.failedAt }

// Reason returns the rejection code, or "" for a valid outcome.
func (o Outcome) Reason() sserr.Code {
	if o.err == nil {
		return ""
	}
	return o.err.Code
}

// Algorithm returns the accepted algorithm, or "" when the run was
// rejected before the algorithm check passed.
func (o Outcome) Algorithm() string { return o.alg }

// Err returns the rejection, or nil for a valid outcome.
func (o Outcome) Err() error {
	if o.err == nil {
		if o.claims == nil {
			return sserr.Internal("assertion: empty outcome")
		}
		return nil
	}
	return o.err
}

// Result returns the validated claims, or nil and the rejection.
func (o Outcome) Result() (*ClaimSet, error) {
	if err := o.Err(); err != nil {
		return nil, err
	}
	return o.claims, nil
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// Pipeline validates assertions against one key and one policy.
type Pipeline struct {
	key      *keys.Material
	registry *Registry
	policy   ClaimsPolicy
	now      func() time.Time
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithRegistry sets the algorithm registry. The default registry holds
// [DefaultAlgorithms].
func WithRegistry(r *Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithAudience enables the audience check.
func WithAudience(aud string) Option {
	return func(p *Pipeline) { p.policy.Audience = aud }
}

// WithClockSkew sets the nbf/exp tolerance. The default is zero.
func WithClockSkew(d time.Duration) Option {
	return func(p *Pipeline) { p.policy.ClockSkew = d }
}

// WithClock replaces time.Now. The clock is read once per run.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithTracer sets the tracer. The default is the global provider's.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a Pipeline verifying with key. Configuration
// errors are [sserr.CodeInternalConfiguration].
func NewPipeline(key *keys.Material, opts ...Option) (*Pipeline, error) {
	if key == nil {
		return nil, sserr.Configuration("assertion: key material is required")
	}

	p := &Pipeline{
		key:    key,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.policy.ClockSkew < 0 {
		return nil, sserr.Configuration("assertion: clock skew must not be negative")
	}
	if p.now == nil {
		return nil, sserr.Configuration("assertion: clock must not be nil")
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	if p.registry == nil {
		r, err := NewRegistry(DefaultAlgorithms())
		if err != nil {
			return nil, err
		}
		p.registry = r
	}
	return p, nil
}

// Policy returns the claims policy.
func (p *Pipeline) Policy() ClaimsPolicy { return p.policy }

// Algorithms returns the allow-listed algorithms.
func (p *Pipeline) Algorithms() []string { return p.registry.Algorithms() }

// Validate runs raw through every stage and returns the outcome. It has
// no side effects beyond tracing and a debug log line; the context is
// used only for the span.
func (p *Pipeline) Validate(ctx context.Context, raw string) Outcome {
	ctx, span := p.tracer.Start(ctx, "assertion.Validate")
	defer span.End()

	out := p.run(raw)

	span.SetAttributes(attribute.String("assertion.state", out.State().String()))
	if out.alg != "" {
		span.SetAttributes(attribute.String("assertion.alg", out.alg))
	}
	if out.err != nil {
		span.SetAttributes(
			attribute.String("assertion.reason", out.err.Code.String()),
			attribute.String("assertion.failed_at", out.failedAt.String()),
		)
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Code.String())
		p.logger.DebugContext(ctx, "assertion rejected",
			"reason", out.err.Code,
			"failed_at", out.failedAt,
			"error", out.err.Message,
		)
	}
	return out
}

// run is the state machine. The clock is read exactly once, before the
// claims stage needs it, so a run is deterministic for a fixed clock.
func (p *Pipeline) run(raw string) Outcome {
	now := p.now()
	state := StateReceived

	reject := func(err *sserr.Error) Outcome {
		return Outcome{err: err, failedAt: state}
	}
	advance := func(to State) {
		if !ValidTransition(state, to) {
			panic("assertion: invalid transition " + state.String() + " -> " + to.String())
		}
		state = to
	}

	tok, err := Parse(raw)
	if err != nil {
		return reject(toError(err))
	}
	advance(StateParsed)

	alg, verifier, err := p.registry.Accept(tok)
	if err != nil {
		return reject(toError(err))
	}
	advance(StateAlgorithmAccepted)

	if verr := verifySignature(verifier, tok, p.key); verr != nil {
		out := reject(verr)
		out.alg = alg
		return out
	}
	advance(StateSignatureVerified)

	claims, cerr := CheckClaims(tok.payload, now, p.policy)
	if cerr != nil {
		out := reject(cerr)
		out.alg = alg
		return out
	}
	advance(StateClaimsValid)

	return Outcome{claims: claims, alg: alg}
}

func toError(err error) *sserr.Error {
	if e, ok := sserr.AsError(err); ok {
		return e
	}
	return sserr.Wrap(err, sserr.CodeInternal, "assertion: unexpected error")
}
