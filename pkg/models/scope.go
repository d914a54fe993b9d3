package models

import (
	"fmt"
	"strings"
)

// Scope is a named permission an access token can carry.
type Scope struct {
	// ID is the scope token, as it appears in the "scope" parameter.
	ID string `json:"id" yaml:"id" db:"id"`

	// Description is informational only.
	Description string `json:"description,omitempty" yaml:"description" db:"description"`
}

// Validate checks that the ID is a scope token as defined by RFC 6749
// section 3.3.
func (s Scope) Validate() error {
	if !ValidScopeToken(s.ID) {
		return fmt.Errorf("models: invalid scope identifier %q", s.ID)
	}
	return nil
}

// ValidScopeToken reports whether s is a non-empty run of the characters
// %x21 / %x23-5B / %x5D-7E.
func ValidScopeToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x21 || c > 0x7E || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}

// ParseScopes splits a space-delimited scope parameter into scope tokens.
// Repeated spaces are ignored and duplicates are dropped, keeping the
// first occurrence.
func ParseScopes(param string) []string {
	fields := strings.Split(param, " ")
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// ScopeIDs returns the identifiers of scopes, in order.
func ScopeIDs(scopes []Scope) []string {
	ids := make([]string, len(scopes))
	for i, s := range scopes {
		ids[i] = s.ID
	}
	return ids
}

// JoinScopes renders scopes as a space-delimited scope parameter.
func JoinScopes(scopes []Scope) string {
	return strings.Join(ScopeIDs(scopes), " ")
}
