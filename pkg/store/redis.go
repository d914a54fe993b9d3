package store

import (
	"context"
	"strings"

	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/models"
)

// Redis key layout, relative to the client's key prefix.
const (
	redisClientKey = "client"
	redisScopesKey = "scopes"
)

// Client hash fields. List fields hold space-separated values.
const (
	fieldName       = "name"
	fieldGrantTypes = "grant_types"
	fieldScopes     = "scopes"
)

// RedisReader is the part of the Redis client the store reads through.
// It is satisfied by *redis.Client from pkg/clients/redis.
type RedisReader interface {
	Key(parts ...string) string
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	Health(ctx context.Context) error
}

// Redis resolves clients from hashes at "<prefix>client:<id>" and scopes
// from the set "<prefix>scopes".
type Redis struct {
	r RedisReader
}

// NewRedis returns a store reading through r.
func NewRedis(r RedisReader) *Redis {
	return &Redis{r: r}
}

// GetClient reads the client hash for identifier.
func (s *Redis) GetClient(ctx context.Context, identifier, grantType string) (*models.Client, error) {
	fields, err := s.r.HGetAll(ctx, s.r.Key(redisClientKey, identifier))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, clientNotFound(identifier)
	}
	c := &models.Client{
		ID:         identifier,
		Name:       fields[fieldName],
		GrantTypes: strings.Fields(fields[fieldGrantTypes]),
		Scopes:     strings.Fields(fields[fieldScopes]),
	}
	if !c.AllowsGrant(grantType) {
		return nil, clientNotFound(identifier)
	}
	return c, nil
}

// GetScope checks identifier against the scope set.
func (s *Redis) GetScope(ctx context.Context, identifier string) (*models.Scope, error) {
	ok, err := s.r.SIsMember(ctx, s.r.Key(redisScopesKey), identifier)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, scopeNotFound(identifier)
	}
	return &models.Scope{ID: identifier}, nil
}

// FinalizeScopes keeps the requested scopes the client may be issued.
func (s *Redis) FinalizeScopes(_ context.Context, scopes []models.Scope, _ string, client *models.Client) ([]models.Scope, error) {
	return finalizeScopes(scopes, client), nil
}

// Health pings Redis.
func (s *Redis) Health(ctx context.Context) error {
	return s.r.Health(ctx)
}
