package grant

import (
	"slices"
	"time"

	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/assertion"
	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/models"
)

// Default configuration values.
const (
	// DefaultAccessTokenTTL is the access token lifetime when none is
	// configured.
	DefaultAccessTokenTTL = time.Hour
)

// Config holds the JWT bearer grant configuration. It is loaded with
// pkg/config:
//
//	cfg := config.MustLoad[grant.Config](config.New().WithEnvPrefix("JWTBEARER"))
type Config struct {
	// KeySource locates the key material assertions are verified with:
	// a file path, a file:// URL, or s3://bucket/object.
	KeySource string `env:"KEY_SOURCE" json:"key_source" yaml:"key_source" required:"true"`

	// Audience, when set, must appear in every assertion's "aud" claim.
	Audience string `env:"AUDIENCE" json:"audience" yaml:"audience"`

	// ClockSkew is the tolerance applied to "nbf" and "exp".
	ClockSkew time.Duration `env:"CLOCK_SKEW" envDefault:"0s" json:"clock_skew" yaml:"clock_skew"`

	// Algorithms is the signature algorithm allow-list.
	Algorithms []string `env:"ALGORITHMS" envDefault:"RS256,HS256,ES256" json:"algorithms" yaml:"algorithms"`

	// DefaultScope is used when a request carries no "scope" parameter.
	// It may hold several space-delimited scopes.
	DefaultScope string `env:"DEFAULT_SCOPE" json:"default_scope" yaml:"default_scope"`

	// AccessTokenTTL is the lifetime of issued access tokens unless the
	// caller passes its own.
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h" json:"access_token_ttl" yaml:"access_token_ttl"`
}

// DefaultConfig returns a Config with defaults applied for every field
// except KeySource.
func DefaultConfig() Config {
	return Config{
		Algorithms:     assertion.DefaultAlgorithms(),
		AccessTokenTTL: DefaultAccessTokenTTL,
	}
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.KeySource == "" {
		return sserr.New(sserr.CodeValidationRequired, "grant: key source is required")
	}
	if c.ClockSkew < 0 {
		return sserr.Newf(sserr.CodeValidation, "grant: clock skew must not be negative, got %s", c.ClockSkew)
	}
	if c.AccessTokenTTL <= 0 {
		return sserr.Newf(sserr.CodeValidation, "grant: access token TTL must be positive, got %s", c.AccessTokenTTL)
	}
	if len(c.Algorithms) == 0 {
		return sserr.New(sserr.CodeValidation, "grant: algorithm allow-list must not be empty")
	}
	known := assertion.KnownAlgorithms()
	for _, alg := range c.Algorithms {
		if !slices.Contains(known, alg) {
			return sserr.Newf(sserr.CodeValidation,
				"grant: algorithm %q is not one of %v", alg, known)
		}
	}
	for _, s := range models.ParseScopes(c.DefaultScope) {
		if !models.ValidScopeToken(s) {
			return sserr.Newf(sserr.CodeValidation, "grant: invalid default scope %q", s)
		}
	}
	return nil
}
