package errors

import (
	"fmt"
	"net/http"
)

// Error represents a structured error with a code, message, and optional cause.
// It implements the standard error interface and carries enough context for a
// token endpoint to choose an HTTP status and OAuth2 error string, and for a
// log line to record the precise internal reason.
//
// Error values are immutable once created; [Error.WithDetail] and
// [Error.WithDetails] return copies.
type Error struct {
	// Code is the machine-readable error code (e.g., "GRANT_003").
	Code Code

	// Message is the internal, human-readable error message. Token
	// endpoints do not copy it to the wire; it is intended for logs.
	Message string

	// Cause is the underlying error that caused this error, if any.
	Cause error

	// Details contains additional structured data about the error, such as
	// the assertion algorithm or the issuer that failed to resolve.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of this error, supporting
// errors.Unwrap() and errors.Is() from the standard library.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status a token endpoint responds with for
// this error, based on its code category.
//
// CLIENT errors answer 401 as RFC 6749 section 5.2 permits for
// invalid_client; all other client-input categories answer 400.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case "REQ", "GRANT", "SCOPE", "VAL":
		return http.StatusBadRequest
	case "CLIENT":
		return http.StatusUnauthorized
	case "NF":
		return http.StatusNotFound
	case "INT":
		return http.StatusInternalServerError
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithDetails returns a new Error with the specified details added.
// The original error is not modified.
func (e *Error) WithDetails(details map[string]any) *Error {
	newDetails := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		newDetails[k] = v
	}
	for k, v := range details {
		newDetails[k] = v
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: newDetails,
	}
}

// WithDetail returns a new Error with a single detail key-value pair added.
// The original error is not modified.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// Format implements fmt.Formatter for detailed error output.
// Use %v for standard output, %+v for detailed output including the cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
