// Package testutil provides shared test helpers for the JWT bearer grant modules.
//
// Helpers accept [testing.TB] and call t.Helper(). Require* helpers halt
// the test on failure; Assert* helpers record it and return the result.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
)

// RequireErrorCode halts the test unless err is an *sserr.Error carrying
// code, and returns it for further inspection.
//
//	e := testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
//	assert.Equal(t, "/etc/keys/assertion.pem", e.Details["key_source"])
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) *sserr.Error {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	ssErr, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
	return ssErr
}

// AssertErrorCode records a failure unless err is an *sserr.Error
// carrying code. Use it in table-driven tests so every row is checked.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	ssErr, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
}

// AssertRejection records a failure unless err carries code, is a
// per-request rejection, and reaches the client as oauthError with the
// given HTTP status.
func AssertRejection(t testing.TB, err error, code sserr.Code, oauthError string, status int) bool {
	t.Helper()
	if !AssertErrorCode(t, err, code) {
		return false
	}
	ssErr, _ := sserr.AsError(err)
	ok := assert.True(t, sserr.IsRejection(err), "%s should be a rejection", code)
	ok = assert.Equal(t, oauthError, ssErr.Code.OAuthError(), "OAuth error for %s", code) && ok
	return assert.Equal(t, status, ssErr.HTTPStatus(), "HTTP status for %s", code) && ok
}

// TempFile creates a file with the given name and content inside
// t.TempDir() and returns its path.
func TempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "failed to write temp file %s", path)
	return path
}

// AssertRedacted records a failure if secret appears in v's JSON encoding
// or in any of its fmt renderings (%v, %+v, %#v, %s).
func AssertRedacted(t testing.TB, v any, secret string) bool {
	t.Helper()
	require.NotEmpty(t, secret, "secret must not be empty")

	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")

	ok := assert.NotContains(t, string(data), secret, "JSON leaks secret: %s", data)
	for _, verb := range []string{"%v", "%+v", "%#v", "%s"} {
		out := fmt.Sprintf(verb, v)
		ok = assert.NotContains(t, out, secret, "%s leaks secret: %s", verb, out) && ok
	}
	return ok
}
