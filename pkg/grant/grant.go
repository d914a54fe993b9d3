// Package grant implements the JWT bearer authorization grant (RFC 7523
// section 2.1): a client exchanges a signed assertion for an access
// token.
//
// A request is handled in a fixed order:
//
//  1. the "assertion" parameter must be present
//  2. the assertion runs through the [assertion.Pipeline]
//  3. requested scopes (or the default scope) are resolved
//  4. the client is resolved from the assertion's "iss" claim
//  5. scopes are finalized for the grant and client
//  6. an access token is issued, without a user and without a refresh
//     token
//  7. an [events.AccessTokenIssued] event is emitted
//
// A rejected assertion stops the request at step 2: no client is looked
// up and nothing is issued.
//
// # Collaborators
//
// Client and scope resolution, token issuance, and event delivery are
// interfaces so the grant works with any store. pkg/store, pkg/token,
// and pkg/events provide implementations.
package grant

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/assertion"
	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/events"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/keys"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/models"
)

// Identifier is the grant_type value of the JWT bearer grant.
const Identifier = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/grant"

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// ClientRepository resolves clients. GetClient returns a
// [sserr.CodeNotFound] error, or a nil client, when no client with the
// identifier may use grantType.
type ClientRepository interface {
	GetClient(ctx context.Context, identifier, grantType string) (*models.Client, error)
}

// ScopeRepository resolves and finalizes scopes. GetScope returns a
// [sserr.CodeNotFound] error, or a nil scope, for unknown identifiers.
type ScopeRepository interface {
	GetScope(ctx context.Context, identifier string) (*models.Scope, error)
	FinalizeScopes(ctx context.Context, scopes []models.Scope, grantType string, client *models.Client) ([]models.Scope, error)
}

// AccessTokenIssuer creates access tokens.
type AccessTokenIssuer interface {
	Issue(ctx context.Context, ttl time.Duration, client *models.Client, userID string, scopes []models.Scope) (*models.AccessToken, error)
}

// EventEmitter receives grant events.
type EventEmitter interface {
	Emit(ctx context.Context, ev events.Event)
}

// ---------------------------------------------------------------------------
// Grant
// ---------------------------------------------------------------------------

// Response is the result of a successful grant.
type Response struct {
	// AccessToken is the issued token.
	AccessToken *models.AccessToken
}

// Grant handles JWT bearer token requests. It is immutable after
// construction and safe for concurrent use.
type Grant struct {
	pipeline     *assertion.Pipeline
	clients      ClientRepository
	scopes       ScopeRepository
	issuer       AccessTokenIssuer
	emitter      EventEmitter
	defaultScope []string
	ttl          time.Duration
	now          func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures a [Grant].
type Option func(*builder)

type builder struct {
	g            *Grant
	key          *keys.Material
	loader       *keys.Loader
	pipelineOpts []assertion.Option
}

// WithClientRepository sets the client repository. Required.
func WithClientRepository(r ClientRepository) Option {
	return func(b *builder) { b.g.clients = r }
}

// WithScopeRepository sets the scope repository. Required.
func WithScopeRepository(r ScopeRepository) Option {
	return func(b *builder) { b.g.scopes = r }
}

// WithAccessTokenIssuer sets the token issuer. Required.
func WithAccessTokenIssuer(i AccessTokenIssuer) Option {
	return func(b *builder) { b.g.issuer = i }
}

// WithEventEmitter sets the event emitter. Events are dropped when none
// is configured.
func WithEventEmitter(e EventEmitter) Option {
	return func(b *builder) { b.g.emitter = e }
}

// WithKeyMaterial uses m instead of loading Config.KeySource. New fails
// when both are set.
func WithKeyMaterial(m *keys.Material) Option {
	return func(b *builder) { b.key = m }
}

// WithKeyLoader sets the loader used to resolve Config.KeySource, for
// example one able to read s3:// sources.
func WithKeyLoader(l *keys.Loader) Option {
	return func(b *builder) { b.loader = l }
}

// WithPipelineOptions passes extra options to the assertion pipeline.
func WithPipelineOptions(opts ...assertion.Option) Option {
	return func(b *builder) { b.pipelineOpts = append(b.pipelineOpts, opts...) }
}

// WithClock replaces time.Now for both the pipeline and token expiry.
func WithClock(now func() time.Time) Option {
	return func(b *builder) { b.g.now = now }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *builder) {
		if l != nil {
			b.g.logger = l
		}
	}
}

// WithTracer sets the tracer. The default is the global provider's.
func WithTracer(t trace.Tracer) Option {
	return func(b *builder) {
		if t != nil {
			b.g.tracer = t
		}
	}
}

// New creates a Grant. The key material is loaded once, here; any
// configuration or loading failure is returned as an
// [sserr.CodeInternalConfiguration] error and the grant is unusable.
func New(ctx context.Context, cfg Config, opts ...Option) (*Grant, error) {
	b := &builder{g: &Grant{
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}}
	for _, opt := range opts {
		opt(b)
	}
	g := b.g

	// Material supplied directly stands in for a key source.
	if b.key != nil {
		if cfg.KeySource != "" {
			return nil, sserr.Configuration("grant: key material and key source are mutually exclusive").
				WithDetail("key_source", cfg.KeySource)
		}
		cfg.KeySource = "inline"
	}
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "grant: invalid configuration")
	}
	switch {
	case g.clients == nil:
		return nil, sserr.Configuration("grant: client repository is required")
	case g.scopes == nil:
		return nil, sserr.Configuration("grant: scope repository is required")
	case g.issuer == nil:
		return nil, sserr.Configuration("grant: access token issuer is required")
	case g.now == nil:
		return nil, sserr.Configuration("grant: clock must not be nil")
	}

	key := b.key
	if key == nil {
		loader := b.loader
		if loader == nil {
			loader = keys.NewLoader(keys.WithLogger(g.logger))
		}
		var err error
		if key, err = loader.Load(ctx, cfg.KeySource); err != nil {
			return nil, err
		}
	}

	registry, err := assertion.NewRegistry(cfg.Algorithms)
	if err != nil {
		return nil, err
	}
	popts := []assertion.Option{
		assertion.WithRegistry(registry),
		assertion.WithAudience(cfg.Audience),
		assertion.WithClockSkew(cfg.ClockSkew),
		assertion.WithClock(g.now),
		assertion.WithLogger(g.logger),
		assertion.WithTracer(g.tracer),
	}
	if g.pipeline, err = assertion.NewPipeline(key, append(popts, b.pipelineOpts...)...); err != nil {
		return nil, err
	}

	g.defaultScope = models.ParseScopes(cfg.DefaultScope)
	g.ttl = cfg.AccessTokenTTL
	return g, nil
}

// Identifier returns [Identifier].
func (g *Grant) Identifier() string { return Identifier }

// AccessTokenTTL returns the configured token lifetime.
func (g *Grant) AccessTokenTTL() time.Duration { return g.ttl }

// Pipeline returns the assertion pipeline.
func (g *Grant) Pipeline() *assertion.Pipeline { return g.pipeline }

// RespondToAccessTokenRequest validates the request's assertion and, when
// it is accepted, issues an access token valid for ttl. A non-positive
// ttl uses the configured AccessTokenTTL.
//
// Errors are [*sserr.Error] values whose code maps to the OAuth2 error
// response via [sserr.Code.OAuthError].
func (g *Grant) RespondToAccessTokenRequest(ctx context.Context, req TokenRequest, ttl time.Duration) (*Response, error) {
	ctx, span := g.tracer.Start(ctx, "grant.RespondToAccessTokenRequest",
		trace.WithAttributes(attribute.String("oauth.grant_type", Identifier)),
	)
	defer span.End()

	resp, err := g.respond(ctx, req, ttl, span)
	if err != nil {
		code := sserr.GetCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, code.String())
		if sserr.IsRejection(err) {
			g.logger.InfoContext(ctx, "token request rejected",
				"grant_type", Identifier,
				"reason", code,
			)
		} else {
			g.logger.ErrorContext(ctx, "token request failed",
				"grant_type", Identifier,
				"reason", code,
				"error", err,
			)
		}
		return nil, err
	}
	return resp, nil
}

func (g *Grant) respond(ctx context.Context, req TokenRequest, ttl time.Duration, span trace.Span) (*Response, error) {
	if ttl <= 0 {
		ttl = g.ttl
	}
	if req.Assertion == "" {
		return nil, sserr.New(sserr.CodeMissingAssertion, "grant: the assertion parameter is required")
	}

	out := g.pipeline.Validate(ctx, req.Assertion)
	claims, err := out.Result()
	if err != nil {
		return nil, err
	}

	requested, err := g.validateScopes(ctx, req.Scope)
	if err != nil {
		return nil, err
	}

	client, err := g.resolveClient(ctx, claims.Issuer())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("oauth.client_id", client.ID))

	finalized, err := g.scopes.FinalizeScopes(ctx, requested, Identifier, client)
	if err != nil {
		return nil, collaboratorError(err, "grant: failed to finalize scopes")
	}

	token, err := g.issuer.Issue(ctx, ttl, client, "", finalized)
	if err != nil {
		return nil, collaboratorError(err, "grant: failed to issue access token")
	}
	if token == nil {
		return nil, sserr.Internal("grant: issuer returned no access token")
	}

	if g.emitter != nil {
		g.emitter.Emit(ctx, events.Event{
			Name:      events.AccessTokenIssued,
			Time:      g.now().UTC(),
			GrantType: Identifier,
			ClientID:  client.ID,
			TokenID:   token.ID,
			Scopes:    models.ScopeIDs(token.Scopes),
			Request:   req.Metadata,
		})
	}

	g.logger.InfoContext(ctx, "access token issued",
		"grant_type", Identifier,
		"client_id", client.ID,
		"subject", claims.Subject(),
		"token_id", token.ID,
		"scopes", strings.Join(models.ScopeIDs(token.Scopes), " "),
	)
	return &Response{AccessToken: token}, nil
}

// validateScopes resolves each requested scope, or the default scope when
// none was requested.
func (g *Grant) validateScopes(ctx context.Context, param string) ([]models.Scope, error) {
	ids := models.ParseScopes(param)
	if len(ids) == 0 {
		ids = g.defaultScope
	}

	scopes := make([]models.Scope, 0, len(ids))
	for _, id := range ids {
		if !models.ValidScopeToken(id) {
			return nil, sserr.New(sserr.CodeInvalidScope, "grant: scope is malformed").
				WithDetail("scope", id)
		}
		s, err := g.scopes.GetScope(ctx, id)
		if err != nil && !sserr.IsNotFound(err) {
			return nil, collaboratorError(err, "grant: failed to resolve scope")
		}
		if s == nil {
			return nil, sserr.New(sserr.CodeInvalidScope, "grant: scope is unknown").
				WithDetail("scope", id)
		}
		scopes = append(scopes, *s)
	}
	return scopes, nil
}

func (g *Grant) resolveClient(ctx context.Context, issuer string) (*models.Client, error) {
	if issuer == "" {
		return nil, sserr.New(sserr.CodeClientUnresolvable, "grant: assertion has no issuer")
	}
	client, err := g.clients.GetClient(ctx, issuer, Identifier)
	if err != nil && !sserr.IsNotFound(err) {
		return nil, collaboratorError(err, "grant: failed to resolve client")
	}
	if client == nil || !client.AllowsGrant(Identifier) {
		return nil, sserr.New(sserr.CodeClientUnresolvable, "grant: client is unknown")
	}
	return client, nil
}

// collaboratorError keeps the code of a structured collaborator error and
// reports anything else as internal.
func collaboratorError(err error, msg string) error {
	if _, ok := sserr.AsError(err); ok {
		return err
	}
	return sserr.Wrap(err, sserr.CodeInternal, msg)
}
