// Package server exposes enabled grants over HTTP as an OAuth2
// authorization server token endpoint.
//
// Routes:
//
//	POST /oauth/token            token requests, dispatched on grant_type
//	GET  /.well-known/jwks.json  public keys of the access-token issuer
//	GET  /healthz                store and object-store health
//	GET  /metrics                Prometheus metrics
//
// Token responses and errors follow RFC 6749 section 5. Every error
// response carries a fixed description for its OAuth2 error code.
//
// Example:
//
//	srv := server.New(
//	    server.WithJWKS(issuer),
//	    server.WithHealthCheck("store", st),
//	)
//	srv.EnableGrantType(g, time.Hour)
//	err := srv.ListenAndServe(ctx, ":8080")
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jose "github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/grant"
)

// Server defaults.
const (
	// DefaultHealthTimeout bounds each health check.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// MaxRequestBodySize caps token request bodies.
	MaxRequestBodySize = 64 << 10

	readHeaderTimeout = 10 * time.Second
)

// GrantHandler is a grant the server can dispatch to. *grant.Grant
// implements it.
type GrantHandler interface {
	Identifier() string
	RespondToAccessTokenRequest(ctx context.Context, req grant.TokenRequest, ttl time.Duration) (*grant.Response, error)
}

// JWKSProvider publishes the public keys access tokens verify with.
// *token.JWTIssuer implements it.
type JWKSProvider interface {
	PublicJWKS() jose.JSONWebKeySet
}

// HealthChecker is a dependency probed by GET /healthz.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type enabledGrant struct {
	handler GrantHandler
	ttl     time.Duration
}

type namedCheck struct {
	name    string
	checker HealthChecker
}

// AuthorizationServer routes token requests to enabled grants. Grants
// may be enabled while the server is serving.
type AuthorizationServer struct {
	mu     sync.RWMutex
	grants map[string]enabledGrant

	jwks          JWKSProvider
	checks        []namedCheck
	metrics       *Metrics
	healthTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures an [AuthorizationServer].
type Option func(*AuthorizationServer)

// WithJWKS serves p's key set at /.well-known/jwks.json. Without it the
// route answers 404.
func WithJWKS(p JWKSProvider) Option {
	return func(s *AuthorizationServer) { s.jwks = p }
}

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, c HealthChecker) Option {
	return func(s *AuthorizationServer) {
		if c != nil {
			s.checks = append(s.checks, namedCheck{name: name, checker: c})
		}
	}
}

// WithMetrics sets the metrics collectors. A new [Metrics] is created
// otherwise.
func WithMetrics(m *Metrics) Option {
	return func(s *AuthorizationServer) { s.metrics = m }
}

// WithHealthTimeout bounds each health check.
func WithHealthTimeout(d time.Duration) Option {
	return func(s *AuthorizationServer) { s.healthTimeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *AuthorizationServer) { s.logger = l }
}

// WithClock sets the time source used for latency metrics.
func WithClock(now func() time.Time) Option {
	return func(s *AuthorizationServer) { s.now = now }
}

// New creates a server with no grants enabled.
func New(opts ...Option) *AuthorizationServer {
	s := &AuthorizationServer{
		grants:        make(map[string]enabledGrant),
		healthTimeout: DefaultHealthTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.healthTimeout <= 0 {
		s.healthTimeout = DefaultHealthTimeout
	}
	return s
}

// EnableGrantType routes requests for g's identifier to g. Tokens are
// issued with ttl; a non-positive ttl leaves the grant's own default in
// effect. Enabling an identifier again replaces the previous grant.
func (s *AuthorizationServer) EnableGrantType(g GrantHandler, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.Identifier()] = enabledGrant{handler: g, ttl: ttl}
	s.logger.Info("grant type enabled",
		"grant_type", g.Identifier(),
		"access_token_ttl", ttl,
	)
}

// Metrics returns the server's collectors.
func (s *AuthorizationServer) Metrics() *Metrics { return s.metrics }

func (s *AuthorizationServer) grant(id string) (enabledGrant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	return g, ok
}

// RespondToAccessTokenRequest dispatches req to the grant enabled for
// its grant type. An unknown grant type fails with
// [sserr.CodeUnsupportedGrantType].
func (s *AuthorizationServer) RespondToAccessTokenRequest(ctx context.Context, req grant.TokenRequest) (*grant.Response, error) {
	if req.GrantType == "" {
		return nil, sserr.New(sserr.CodeInvalidRequest, "server: the grant_type parameter is required")
	}
	g, ok := s.grant(req.GrantType)
	if !ok {
		return nil, sserr.New(sserr.CodeUnsupportedGrantType, "server: grant type is not enabled").
			WithDetail("grant_type", req.GrantType)
	}
	return g.handler.RespondToAccessTokenRequest(ctx, req, g.ttl)
}

// Routes returns a router with every endpoint registered.
func (s *AuthorizationServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)
	r.Post("/oauth/token", s.TokenHandler)
	r.Get("/.well-known/jwks.json", s.JWKSHandler)
	r.Get("/healthz", s.HealthHandler)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Handler returns [AuthorizationServer.Routes] wrapped with OpenTelemetry
// HTTP server instrumentation.
func (s *AuthorizationServer) Handler() http.Handler {
	return otelhttp.NewHandler(s.Routes(), "jwtbearer.server")
}

// Serve serves [AuthorizationServer.Handler] on ln until ctx is
// cancelled, then shuts down gracefully. It returns nil after a clean
// shutdown.
func (s *AuthorizationServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("token server listening", "address", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return sserr.Wrap(err, sserr.CodeInternal, "server: serve failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "server: shutdown failed")
	}
	s.logger.Info("token server stopped")
	return nil
}

// ListenAndServe listens on addr and calls [AuthorizationServer.Serve].
func (s *AuthorizationServer) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration, "server: cannot listen on %q", addr)
	}
	return s.Serve(ctx, ln)
}
