package store

import (
	"context"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/models"
)

// Schema creates the tables the PostgreSQL store reads. Empty arrays mean
// no restriction.
const Schema = `CREATE TABLE IF NOT EXISTS oauth_clients (
    id          text PRIMARY KEY,
    name        text NOT NULL DEFAULT '',
    grant_types text[] NOT NULL DEFAULT '{}',
    scopes      text[] NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS oauth_scopes (
    id          text PRIMARY KEY,
    description text NOT NULL DEFAULT ''
);`

const (
	selectClient = `SELECT id, name, grant_types, scopes FROM oauth_clients WHERE id = $1`
	selectScope  = `SELECT id, description FROM oauth_scopes WHERE id = $1`
)

// PostgresQuerier is the part of the PostgreSQL client the store reads
// through. It is satisfied by *postgres.Client from pkg/clients/postgres.
type PostgresQuerier interface {
	QueryOne(ctx context.Context, sql string, args []any, dest ...any) error
	Health(ctx context.Context) error
}

// Postgres resolves clients and scopes from the tables in [Schema].
type Postgres struct {
	q PostgresQuerier
}

// NewPostgres returns a store reading through q.
func NewPostgres(q PostgresQuerier) *Postgres {
	return &Postgres{q: q}
}

// GetClient selects the client row for identifier.
func (s *Postgres) GetClient(ctx context.Context, identifier, grantType string) (*models.Client, error) {
	var c models.Client
	err := s.q.QueryOne(ctx, selectClient, []any{identifier}, &c.ID, &c.Name, &c.GrantTypes, &c.Scopes)
	if sserr.IsNotFound(err) {
		return nil, clientNotFound(identifier)
	}
	if err != nil {
		return nil, err
	}
	if !c.AllowsGrant(grantType) {
		return nil, clientNotFound(identifier)
	}
	return &c, nil
}

// GetScope selects the scope row for identifier.
func (s *Postgres) GetScope(ctx context.Context, identifier string) (*models.Scope, error) {
	var sc models.Scope
	err := s.q.QueryOne(ctx, selectScope, []any{identifier}, &sc.ID, &sc.Description)
	if sserr.IsNotFound(err) {
		return nil, scopeNotFound(identifier)
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// FinalizeScopes keeps the requested scopes the client may be issued.
func (s *Postgres) FinalizeScopes(_ context.Context, scopes []models.Scope, _ string, client *models.Client) ([]models.Scope, error) {
	return finalizeScopes(scopes, client), nil
}

// Health pings the database.
func (s *Postgres) Health(ctx context.Context) error {
	return s.q.Health(ctx)
}
