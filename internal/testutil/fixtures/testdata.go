// Package fixtures provides shared test data for the JWT bearer grant
// test suite: well-known identities, generated keys, and signed
// assertions.
//
// Using common constants for test clients prevents magic strings in
// tests and keeps values consistent across packages.
package fixtures

import "time"

// Assertion claim values used across grant, pipeline, and server tests.
const (
	// Issuer is the issuer claim of test assertions. The grant resolves
	// it as the client identifier.
	Issuer = "My service"

	// Audience is the expected audience configured for audience tests.
	Audience = "Your app"

	// WrongAudience is an audience value no test grant accepts.
	WrongAudience = "who are you"

	// Subject is the subject claim of test assertions.
	Subject = "service-account@my-service"
)

// Client and scope values used by store and grant tests.
const (
	// ClientName is the display name of the test client.
	ClientName = "My Service"

	// UnknownClient is an issuer no store knows about.
	UnknownClient = "nobody"

	// ScopeBasic is the default scope of test grants.
	ScopeBasic = "basic"

	// ScopeRead is an additional scope granted to the test client.
	ScopeRead = "read"

	// ScopeAdmin is a known scope the test client is not allowed.
	ScopeAdmin = "admin"

	// ScopeUnknown is a scope that no store knows about.
	ScopeUnknown = "launch-missiles"
)

// Token lifetimes.
const (
	// AssertionLifetime is the exp offset of test assertions.
	AssertionLifetime = time.Hour

	// AccessTokenTTL is the TTL test grants pass to the issuer.
	AccessTokenTTL = time.Hour
)

// Now is a fixed instant for deterministic pipeline tests.
var Now = time.Date(2026, time.March, 14, 15, 9, 26, 0, time.UTC)

// HMACSecret is a 32-byte shared secret for HS256 tests.
var HMACSecret = []byte("0123456789abcdef0123456789abcdef")

// Standard configuration values used in config and server tests.
const (
	// TestEnvPrefix is the default environment variable prefix for config tests.
	TestEnvPrefix = "JWTBEARER"

	// TestSeedYAML seeds an in-memory store with the test client and scopes.
	TestSeedYAML = `clients:
  - id: My service
    name: My Service
    grant_types:
      - urn:ietf:params:oauth:grant-type:jwt-bearer
    scopes: [basic, read]
scopes:
  - id: basic
    description: Basic access
  - id: read
    description: Read access
  - id: admin
    description: Administrative access
`
)

// Standard infrastructure values used in client tests.
const (
	// TestDBName is the default database name for test configurations.
	TestDBName = "oauth"

	// TestDBUser is the default database user for test configurations.
	TestDBUser = "oauth"

	// TestDBPassword is the default database password for test configurations.
	TestDBPassword = "oauth-test-password"

	// TestKeyBucket is the bucket holding key material in object store tests.
	TestKeyBucket = "keys"
)
