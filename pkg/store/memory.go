package store

import (
	"context"
	"sync"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/models"
)

// Memory is an in-process client and scope registry. It is safe for
// concurrent use; returned clients are copies.
type Memory struct {
	mu      sync.RWMutex
	clients map[string]*models.Client
	scopes  map[string]models.Scope
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{
		clients: make(map[string]*models.Client),
		scopes:  make(map[string]models.Scope),
	}
}

// AddClient registers or replaces a client.
func (m *Memory) AddClient(c *models.Client) error {
	if c == nil {
		return sserr.Validation("store: client is nil")
	}
	if err := c.Validate(); err != nil {
		return sserr.Wrap(err, sserr.CodeValidation, "store: invalid client")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c.Clone()
	return nil
}

// AddScope registers or replaces a scope.
func (m *Memory) AddScope(s models.Scope) error {
	if err := s.Validate(); err != nil {
		return sserr.Wrap(err, sserr.CodeValidation, "store: invalid scope")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[s.ID] = s
	return nil
}

// GetClient returns the client registered under identifier when it may
// use grantType.
func (m *Memory) GetClient(_ context.Context, identifier, grantType string) (*models.Client, error) {
	m.mu.RLock()
	c, ok := m.clients[identifier]
	m.mu.RUnlock()
	if !ok || !c.AllowsGrant(grantType) {
		return nil, clientNotFound(identifier)
	}
	return c.Clone(), nil
}

// GetScope returns the scope registered under identifier.
func (m *Memory) GetScope(_ context.Context, identifier string) (*models.Scope, error) {
	m.mu.RLock()
	s, ok := m.scopes[identifier]
	m.mu.RUnlock()
	if !ok {
		return nil, scopeNotFound(identifier)
	}
	return &s, nil
}

// FinalizeScopes keeps the requested scopes the client may be issued.
func (m *Memory) FinalizeScopes(_ context.Context, scopes []models.Scope, _ string, client *models.Client) ([]models.Scope, error) {
	return finalizeScopes(scopes, client), nil
}
