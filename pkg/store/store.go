// Package store resolves registered OAuth2 clients and scopes for the
// grant. Three read-only backends are provided:
//
//   - [Memory]: an in-process registry, optionally seeded from YAML
//   - [Redis]: client hashes and a scope set in Redis
//   - [Postgres]: the oauth_clients and oauth_scopes tables
//
// Every backend satisfies both grant.ClientRepository and
// grant.ScopeRepository. Lookups that match nothing return a
// [sserr.CodeNotFound] error. A client that exists but may not use the
// requested grant type is reported the same way.
package store

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/models"
)

// Backend names a store implementation in configuration.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Valid reports whether b names a known backend.
func (b Backend) Valid() bool {
	switch b {
	case BackendMemory, BackendRedis, BackendPostgres:
		return true
	}
	return false
}

// HealthChecker is implemented by backends with a remote dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Seed is the YAML document accepted by [LoadSeed].
//
//	clients:
//	  - id: My service
//	    grant_types: [urn:ietf:params:oauth:grant-type:jwt-bearer]
//	    scopes: [basic]
//	scopes:
//	  - id: basic
type Seed struct {
	Clients []models.Client `yaml:"clients"`
	Scopes  []models.Scope  `yaml:"scopes"`
}

// LoadSeed decodes a seed document and returns a populated [Memory].
func LoadSeed(data []byte) (*Memory, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "store: invalid seed document")
	}
	m := NewMemory()
	for i := range seed.Scopes {
		if err := m.AddScope(seed.Scopes[i]); err != nil {
			return nil, err
		}
	}
	for i := range seed.Clients {
		if err := m.AddClient(&seed.Clients[i]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// LoadSeedFile reads and decodes a seed file.
func LoadSeedFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "store: cannot read seed file %q", path)
	}
	return LoadSeed(data)
}

// finalizeScopes keeps, in order, the requested scopes the client may be
// issued. It is the FinalizeScopes policy shared by every backend.
func finalizeScopes(scopes []models.Scope, client *models.Client) []models.Scope {
	if client == nil {
		return nil
	}
	out := make([]models.Scope, 0, len(scopes))
	for _, s := range scopes {
		if client.AllowsScope(s.ID) {
			out = append(out, s)
		}
	}
	return out
}

func clientNotFound(identifier string) error {
	return sserr.New(sserr.CodeNotFound, "store: client not found").WithDetail("client_id", identifier)
}

func scopeNotFound(identifier string) error {
	return sserr.New(sserr.CodeNotFound, "store: scope not found").WithDetail("scope", identifier)
}
