package models

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// TokenTypeBearer is the only token type this server issues.
const TokenTypeBearer = "Bearer"

// Secret is a string type that prevents accidental logging of sensitive
// values such as issued access tokens. Its [Secret.String] and
// [Secret.GoString] methods return a redacted placeholder. Use
// [Secret.Value] to retrieve the actual value.
type Secret string

// redacted is the placeholder string returned by Secret's string methods.
const redacted = "[REDACTED]"

// String returns "[REDACTED]" to prevent accidental logging of the secret.
func (s Secret) String() string {
	return redacted
}

// GoString returns "[REDACTED]" for fmt.Sprintf("%#v", secret) safety.
func (s Secret) GoString() string {
	return redacted
}

// Value returns the actual secret string.
func (s Secret) Value() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler, returning "[REDACTED]".
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// AccessToken is an issued OAuth2 access token. Tokens are returned to
// the caller and never stored.
type AccessToken struct {
	// ID is the unique token identifier (UUID v4), used as the "jti".
	ID string `json:"id"`

	// Value is the serialized token handed to the client.
	Value Secret `json:"-"`

	// ClientID is the client the token was issued to.
	ClientID string `json:"client_id"`

	// UserID is the resource owner. It is always empty for tokens issued
	// through the JWT bearer grant.
	UserID string `json:"user_id,omitempty"`

	// Scopes are the finalized scopes the token carries.
	Scopes []Scope `json:"scopes"`

	// IssuedAt is the UTC issue time.
	IssuedAt time.Time `json:"issued_at"`

	// ExpiresAt is the UTC expiry time.
	ExpiresAt time.Time `json:"expires_at"`
}

// NewAccessToken creates a token record with a generated ID and UTC
// timestamps. The caller sets Value once the token is serialized.
func NewAccessToken(client *Client, userID string, scopes []Scope, now time.Time, ttl time.Duration) (*AccessToken, error) {
	if client == nil || client.ID == "" {
		return nil, errors.New("models: access token client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("models: access token TTL must be positive")
	}
	issued := now.UTC().Truncate(time.Second)
	return &AccessToken{
		ID:        uuid.New().String(),
		ClientID:  client.ID,
		UserID:    userID,
		Scopes:    slices.Clone(scopes),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}, nil
}

// TTL returns the token lifetime.
func (t *AccessToken) TTL() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// ExpiresIn returns the whole seconds remaining at now, never negative.
func (t *AccessToken) ExpiresIn(now time.Time) int64 {
	d := t.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// ScopeString renders the token's scopes as a scope parameter.
func (t *AccessToken) ScopeString() string {
	return JoinScopes(t.Scopes)
}

// Validate checks that the token has an ID, a value, a client, and a
// positive lifetime.
func (t *AccessToken) Validate() error {
	if t.ID == "" {
		return errors.New("models: access token ID is required")
	}
	if t.Value == "" {
		return errors.New("models: access token value is required")
	}
	if t.ClientID == "" {
		return errors.New("models: access token client ID is required")
	}
	if t.IssuedAt.IsZero() {
		return errors.New("models: access token issued_at is required")
	}
	if !t.ExpiresAt.After(t.IssuedAt) {
		return errors.New("models: access token must expire after it is issued")
	}
	return nil
}
