package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error.
// Returns the Error and true if successful, nil and false otherwise.
// This function traverses the error chain using errors.As.
//
// Example:
//
//	if e, ok := errors.AsError(err); ok {
//	    logger.Info("assertion rejected", "code", e.Code)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code from an error.
// If the error is not an *Error or is nil, returns an empty string.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode checks if an error has the specified error code.
// Returns false if the error is nil or not an *Error.
//
// Example:
//
//	if errors.HasCode(err, errors.CodeTokenExpired) {
//	    // ask the client to mint a fresh assertion
//	}
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsInvalidRequest checks if the error is a malformed request or
// assertion error (REQ_xxx).
func IsInvalidRequest(err error) bool {
	return hasCategory(err, "REQ")
}

// IsInvalidGrant checks if the error rejects a well-formed assertion
// (GRANT_xxx): bad signature, outside its validity window, or addressed
// to another audience.
func IsInvalidGrant(err error) bool {
	return hasCategory(err, "GRANT")
}

// IsInvalidClient checks if the error is a client resolution error (CLIENT_xxx).
func IsInvalidClient(err error) bool {
	return hasCategory(err, "CLIENT")
}

// IsInvalidScope checks if the error is a scope error (SCOPE_xxx).
func IsInvalidScope(err error) bool {
	return hasCategory(err, "SCOPE")
}

// IsRejection reports whether the error is an assertion or grant
// rejection attributable to the caller's input, as opposed to a
// server-side fault.
func IsRejection(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "REQ", "GRANT", "CLIENT", "SCOPE":
		return true
	default:
		return false
	}
}

// IsValidation checks if the error is a validation error (VAL_xxx).
func IsValidation(err error) bool {
	return hasCategory(err, "VAL")
}

// IsNotFound checks if the error is a not found error (NF_xxx).
//
// Example:
//
//	if errors.IsNotFound(err) {
//	    return nil, errors.Wrap(err, errors.CodeClientUnresolvable, "unknown issuer")
//	}
func IsNotFound(err error) bool {
	return hasCategory(err, "NF")
}

// IsInternal checks if the error is an internal error (INT_xxx).
func IsInternal(err error) bool {
	return hasCategory(err, "INT")
}

// IsUnavailable checks if the error is a service unavailable error (UNAVAIL_xxx).
func IsUnavailable(err error) bool {
	return hasCategory(err, "UNAVAIL")
}

// IsTimeout checks if the error is a timeout error (TIMEOUT_xxx).
func IsTimeout(err error) bool {
	return hasCategory(err, "TIMEOUT")
}

// IsRetryable checks if the error is potentially retryable.
// Timeout and unavailable errors are considered retryable. Rejections
// never are: resubmitting the same assertion yields the same outcome.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL":
		return true
	default:
		return false
	}
}

// IsClientError checks if the error is a client error (4xx HTTP status).
func IsClientError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	status := e.HTTPStatus()
	return status >= 400 && status < 500
}

// IsServerError checks if the error is a server error (5xx HTTP status).
// Server errors include internal, unavailable, and timeout errors.
func IsServerError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "INT", "UNAVAIL", "TIMEOUT":
		return true
	default:
		return false
	}
}
