package errors

// Code represents a machine-readable error code. Codes follow the pattern
// CATEGORY_XXX where CATEGORY selects the OAuth2 error and HTTP status and
// XXX distinguishes the individual condition for logs and metrics.
//
// Codes are stable: dashboards and alerts key on them, so a code is never
// reused for a different condition.
type Code string

// Error code categories:
//
//	REQ_xxx     - malformed request or assertion   (400, invalid_request)
//	GRANT_xxx   - unacceptable assertion           (400, invalid_grant)
//	CLIENT_xxx  - unknown client                   (401, invalid_client)
//	SCOPE_xxx   - unknown or refused scope         (400, invalid_scope)
//	VAL_xxx     - validation of config and models  (400, invalid_request)
//	INT_xxx     - internal faults                  (500, server_error)
//	UNAVAIL_xxx - dependency unavailable           (503, temporarily_unavailable)
//	TIMEOUT_xxx - dependency timed out             (504, temporarily_unavailable)
const (
	// Request errors (REQ_xxx).

	// CodeMissingAssertion indicates the "assertion" parameter is absent.
	CodeMissingAssertion Code = "REQ_001"

	// CodeMalformedToken indicates the assertion is not a well-formed
	// compact token (segment count, encoding, or header shape).
	CodeMalformedToken Code = "REQ_002"

	// CodeUnsupportedAlgorithm indicates the assertion's "alg" header is
	// absent or not on the algorithm allow-list.
	CodeUnsupportedAlgorithm Code = "REQ_003"

	// CodeMalformedClaims indicates the payload does not decode as a claim
	// set or a time claim is not numeric.
	CodeMalformedClaims Code = "REQ_004"

	// CodeMissingExpiration indicates the required "exp" claim is absent.
	CodeMissingExpiration Code = "REQ_005"

	// CodeInvalidRequest indicates a generally malformed token request.
	CodeInvalidRequest Code = "REQ_006"

	// CodeUnsupportedGrantType indicates no grant is registered for the
	// requested grant_type.
	CodeUnsupportedGrantType Code = "REQ_007"

	// Grant errors (GRANT_xxx).

	// CodeSignatureInvalid indicates the assertion signature did not verify.
	CodeSignatureInvalid Code = "GRANT_001"

	// CodeTokenNotYetValid indicates the current time is before "nbf".
	CodeTokenNotYetValid Code = "GRANT_002"

	// CodeTokenExpired indicates the current time is at or after "exp".
	CodeTokenExpired Code = "GRANT_003"

	// CodeAudienceMismatch indicates the "aud" claim does not name the
	// configured audience.
	CodeAudienceMismatch Code = "GRANT_004"

	// Client errors (CLIENT_xxx).

	// CodeClientUnresolvable indicates the assertion issuer is not a
	// client known to the client repository.
	CodeClientUnresolvable Code = "CLIENT_001"

	// Scope errors (SCOPE_xxx).

	// CodeInvalidScope indicates a requested scope is unknown or was
	// refused during finalization.
	CodeInvalidScope Code = "SCOPE_001"

	// Validation errors (VAL_xxx).

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// Not found errors (NF_xxx). Stores return these; the grant converts
	// them into CodeClientUnresolvable or CodeInvalidScope.

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// Internal errors (INT_xxx).

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a store operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error, including
	// unreadable or unusable key material.
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable errors (UNAVAIL_xxx).

	// CodeUnavailableDependency indicates a dependent service is unavailable.
	CodeUnavailableDependency Code = "UNAVAIL_001"

	// Timeout errors (TIMEOUT_xxx).

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a store operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"
)

// OAuth2 error strings from RFC 6749 section 5.2 and section 4.1.2.1.
const (
	OAuthInvalidRequest         = "invalid_request"
	OAuthInvalidClient          = "invalid_client"
	OAuthInvalidGrant           = "invalid_grant"
	OAuthInvalidScope           = "invalid_scope"
	OAuthUnsupportedGrantType   = "unsupported_grant_type"
	OAuthServerError            = "server_error"
	OAuthTemporarilyUnavailable = "temporarily_unavailable"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "REQ").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}

// OAuthError returns the OAuth2 "error" value a token endpoint reports
// for this code. Unknown codes map to server_error.
func (c Code) OAuthError() string {
	if c == CodeUnsupportedGrantType {
		return OAuthUnsupportedGrantType
	}
	switch c.Category() {
	case "REQ", "VAL":
		return OAuthInvalidRequest
	case "GRANT":
		return OAuthInvalidGrant
	case "CLIENT":
		return OAuthInvalidClient
	case "SCOPE":
		return OAuthInvalidScope
	case "UNAVAIL", "TIMEOUT":
		return OAuthTemporarilyUnavailable
	default:
		return OAuthServerError
	}
}
