package grant

import (
	"maps"
	"net/url"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
)

// Token endpoint form parameters.
const (
	ParamGrantType = "grant_type"
	ParamAssertion = "assertion"
	ParamScope     = "scope"
)

// TokenRequest is a token endpoint request, reduced to the parameters
// this grant reads.
type TokenRequest struct {
	// GrantType is the "grant_type" parameter.
	GrantType string

	// Assertion is the "assertion" parameter: the compact signed JWT.
	Assertion string

	// Scope is the "scope" parameter, space-delimited. Empty means the
	// grant's default scope applies.
	Scope string

	// Metadata describes the transport request (remote address, request
	// ID, user agent). It is passed through to emitted events.
	Metadata map[string]string
}

// ParseTokenRequest reads a token request from decoded form values.
// A parameter sent more than once is rejected with
// [sserr.CodeInvalidRequest].
func ParseTokenRequest(form url.Values) (TokenRequest, error) {
	for _, name := range []string{ParamGrantType, ParamAssertion, ParamScope} {
		if len(form[name]) > 1 {
			return TokenRequest{}, sserr.Newf(sserr.CodeInvalidRequest,
				"grant: parameter %q must not be repeated", name)
		}
	}
	return TokenRequest{
		GrantType: form.Get(ParamGrantType),
		Assertion: form.Get(ParamAssertion),
		Scope:     form.Get(ParamScope),
	}, nil
}

// WithMetadata returns a copy of r carrying md in addition to its own
// metadata.
func (r TokenRequest) WithMetadata(md map[string]string) TokenRequest {
	merged := maps.Clone(r.Metadata)
	if merged == nil {
		merged = make(map[string]string, len(md))
	}
	maps.Copy(merged, md)
	r.Metadata = merged
	return r
}
