// Package errors provides the structured error type used across the JWT
// bearer grant: assertion rejections, grant failures, collaborator faults,
// and configuration errors all travel as [*Error] values carrying a
// machine-readable [Code].
//
// # Error Categories
//
// Codes are grouped by category prefix. The category decides both the
// HTTP status and the OAuth2 error string a token endpoint writes:
//
//   - REQ: the token request or assertion is malformed (invalid_request)
//   - GRANT: the assertion is well-formed but not acceptable (invalid_grant)
//   - CLIENT: the assertion issuer is not a known client (invalid_client)
//   - SCOPE: a requested scope is unknown or refused (invalid_scope)
//   - VAL: configuration or model validation failures
//   - INT: unexpected server faults (server_error)
//   - UNAVAIL / TIMEOUT: a dependency could not be reached
//
// # Usage
//
// Create a rejection:
//
//	err := errors.New(errors.CodeTokenExpired, "assertion has expired")
//
// Wrap a collaborator failure:
//
//	err := errors.Wrap(err, errors.CodeInternalDatabase, "failed to load client")
//
// Map an error to the wire:
//
//	if e, ok := errors.AsError(err); ok {
//	    writeOAuthError(w, e.HTTPStatus(), e.Code.OAuthError())
//	}
package errors
