// Package token issues signed JWT access tokens and publishes the key
// that verifies them as a JSON Web Key Set.
//
// Access tokens follow the shape of RFC 9068: the client is both the
// audience and, when no user is involved, the subject.
package token

import (
	"context"
	"crypto"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/keys"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/models"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/token"

// TypeAccessToken is the "typ" header of issued tokens (RFC 9068).
const TypeAccessToken = "at+jwt"

// Claims is the claim set of an issued access token.
type Claims struct {
	jwt.RegisteredClaims

	// ClientID is the client the token was issued to.
	ClientID string `json:"client_id"`

	// Scope is the space-delimited scope list.
	Scope string `json:"scope,omitempty"`
}

// JWTIssuer signs access tokens with a private key. It is immutable
// after construction and safe for concurrent use.
type JWTIssuer struct {
	issuer string
	key    *keys.Material
	signer crypto.Signer
	method jwt.SigningMethod
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a [JWTIssuer].
type Option func(*JWTIssuer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *JWTIssuer) { i.now = now }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *JWTIssuer) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithTracer sets the tracer. The default is the global provider's.
func WithTracer(t trace.Tracer) Option {
	return func(i *JWTIssuer) {
		if t != nil {
			i.tracer = t
		}
	}
}

// NewJWTIssuer creates an issuer signing with key. The key must hold a
// private RSA key (RS256) or P-256 key (ES256). When the key has no key
// ID, its RFC 7638 thumbprint is used.
func NewJWTIssuer(key *keys.Material, issuer string, opts ...Option) (*JWTIssuer, error) {
	if key == nil {
		return nil, sserr.Configuration("token: signing key is required")
	}
	if issuer == "" {
		return nil, sserr.Configuration("token: issuer name is required")
	}
	signer, ok := key.SigningKey()
	if !ok {
		return nil, sserr.Configuration("token: signing key must be a private key")
	}

	var method jwt.SigningMethod
	switch key.Family() {
	case keys.FamilyRSA:
		method = jwt.SigningMethodRS256
	case keys.FamilyECP256:
		method = jwt.SigningMethodES256
	default:
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"token: cannot sign access tokens with %s keys", key.Family())
	}

	if key.KeyID() == "" {
		kid, err := thumbprint(key.PublicKey())
		if err != nil {
			return nil, err
		}
		key = key.WithKeyID(kid)
	}

	i := &JWTIssuer{
		issuer: issuer,
		key:    key,
		signer: signer,
		method: method,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.now == nil {
		return nil, sserr.Configuration("token: clock must not be nil")
	}
	return i, nil
}

// Algorithm returns the signing algorithm.
func (i *JWTIssuer) Algorithm() string { return i.method.Alg() }

// KeyID returns the "kid" header of issued tokens.
func (i *JWTIssuer) KeyID() string { return i.key.KeyID() }

// Issue implements the grant's access token issuer. The returned token's
// Value is the signed JWT.
func (i *JWTIssuer) Issue(ctx context.Context, ttl time.Duration, client *models.Client, userID string, scopes []models.Scope) (*models.AccessToken, error) {
	_, span := i.tracer.Start(ctx, "token.Issue")
	defer span.End()

	tok, err := models.NewAccessToken(client, userID, scopes, i.now(), ttl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid token request")
		return nil, sserr.Wrap(err, sserr.CodeInternal, "token: cannot issue access token")
	}

	subject := userID
	if subject == "" {
		subject = client.ID
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{client.ID},
			ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt),
			NotBefore: jwt.NewNumericDate(tok.IssuedAt),
			IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
			ID:        tok.ID,
		},
		ClientID: client.ID,
		Scope:    tok.ScopeString(),
	}

	jt := jwt.NewWithClaims(i.method, claims)
	jt.Header["typ"] = TypeAccessToken
	jt.Header["kid"] = i.key.KeyID()

	signed, err := jt.SignedString(i.signer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "signing failed")
		return nil, sserr.Wrap(err, sserr.CodeInternal, "token: failed to sign access token")
	}
	tok.Value = models.Secret(signed)

	span.SetAttributes(
		attribute.String("oauth.client_id", client.ID),
		attribute.String("oauth.token_id", tok.ID),
	)
	i.logger.DebugContext(ctx, "access token signed",
		"client_id", client.ID,
		"token_id", tok.ID,
		"expires_at", tok.ExpiresAt,
	)
	return tok, nil
}

// PublicJWKS returns the key set resource servers verify tokens with.
func (i *JWTIssuer) PublicJWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       i.key.PublicKey(),
		KeyID:     i.key.KeyID(),
		Algorithm: i.method.Alg(),
		Use:       "sig",
	}}}
}

func thumbprint(pub crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternalConfiguration, "token: cannot compute key thumbprint")
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}
