// Package models defines the entities the JWT bearer grant works with.
//
// The authorization server does not own any of them: clients and scopes
// are registered elsewhere and resolved read-only through the store
// collaborators, and access tokens are produced by the issuer and handed
// straight back to the caller. The models are therefore plain values with
// JSON, YAML, and db tags for the stores that read them.
//
// Client Model:
//
// A [Client] is identified by the "iss" claim of its assertion. It may
// restrict the grant types it can use and the scopes it can be issued;
// an empty list means no restriction.
package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Client is a registered OAuth2 client.
type Client struct {
	// ID is the client identifier. For the JWT bearer grant it equals the
	// assertion's "iss" claim.
	ID string `json:"id" yaml:"id" db:"id"`

	// Name is a human-readable display name.
	Name string `json:"name,omitempty" yaml:"name" db:"name"`

	// GrantTypes lists the grant type identifiers the client may use.
	// Empty allows every grant type.
	GrantTypes []string `json:"grant_types,omitempty" yaml:"grant_types" db:"grant_types"`

	// Scopes lists the scope identifiers the client may be issued. Empty
	// allows every known scope.
	Scopes []string `json:"scopes,omitempty" yaml:"scopes" db:"scopes"`
}

// Validate checks that the client has an identifier and that its scope
// restrictions are well-formed scope tokens.
func (c *Client) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("models: client ID is required")
	}
	for _, gt := range c.GrantTypes {
		if strings.TrimSpace(gt) == "" {
			return fmt.Errorf("models: client %q has an empty grant type", c.ID)
		}
	}
	for _, s := range c.Scopes {
		if !ValidScopeToken(s) {
			return fmt.Errorf("models: client %q has invalid scope %q", c.ID, s)
		}
	}
	return nil
}

// AllowsGrant reports whether the client may use grantType.
func (c *Client) AllowsGrant(grantType string) bool {
	return len(c.GrantTypes) == 0 || slices.Contains(c.GrantTypes, grantType)
}

// AllowsScope reports whether the client may be issued the scope.
func (c *Client) AllowsScope(id string) bool {
	return len(c.Scopes) == 0 || slices.Contains(c.Scopes, id)
}

// Clone returns a deep copy.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	cp.GrantTypes = slices.Clone(c.GrantTypes)
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}
