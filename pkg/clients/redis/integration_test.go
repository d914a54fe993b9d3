//go:build integration

// Package redis_test contains integration tests for the Redis client and
// the Redis client store, run against a real Redis via testcontainers-go.
//
// Run locally with:
//
//	go test -v -race -tags=integration ./pkg/clients/redis/...
//
// All tests share one container started in SetupSuite. Each test writes
// under its own key prefix.
package redis_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/stricklysoft-jwtbearer/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-jwtbearer/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/grant"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/models"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/store"
)

// ===========================================================================
// Suite Definition
// ===========================================================================

type RedisIntegrationSuite struct {
	suite.Suite

	ctx    context.Context
	result *containers.RedisResult

	// admin writes fixtures; the client under test only reads.
	admin *goredis.Client
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartRedis(s.ctx)
	require.NoError(s.T(), err, "failed to start Redis container")
	s.result = result

	opts, err := goredis.ParseURL(result.ConnString)
	require.NoError(s.T(), err)
	s.admin = goredis.NewClient(opts)
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.admin != nil {
		_ = s.admin.Close()
	}
	if s.result != nil {
		if err := s.result.Container.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate redis container: %v", err)
		}
	}
}

func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisIntegrationSuite))
}

// newClient connects a client whose keys live under prefix.
func (s *RedisIntegrationSuite) newClient(prefix string) *redis.Client {
	cfg := redis.Config{URI: s.result.ConnString, KeyPrefix: prefix}
	c, err := redis.NewClient(s.ctx, cfg)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

// seed writes the test client and scopes under prefix.
func (s *RedisIntegrationSuite) seed(prefix string) {
	s.Require().NoError(s.admin.HSet(s.ctx, prefix+"client:"+fixtures.Issuer,
		"name", fixtures.ClientName,
		"grant_types", grant.Identifier,
		"scopes", strings.Join([]string{fixtures.ScopeBasic, fixtures.ScopeRead}, " "),
	).Err())
	s.Require().NoError(s.admin.SAdd(s.ctx, prefix+"scopes",
		fixtures.ScopeBasic, fixtures.ScopeRead, fixtures.ScopeAdmin).Err())
}

// ===========================================================================
// Client
// ===========================================================================

func (s *RedisIntegrationSuite) TestHealth() {
	c := s.newClient("health:")
	s.NoError(c.Health(s.ctx))
}

func (s *RedisIntegrationSuite) TestReads() {
	prefix := "reads:"
	c := s.newClient(prefix)
	s.seed(prefix)

	fields, err := c.HGetAll(s.ctx, c.Key("client", fixtures.Issuer))
	s.Require().NoError(err)
	s.Equal(fixtures.ClientName, fields["name"])

	members, err := c.SMembers(s.ctx, c.Key("scopes"))
	s.Require().NoError(err)
	s.ElementsMatch([]string{fixtures.ScopeBasic, fixtures.ScopeRead, fixtures.ScopeAdmin}, members)

	ok, err := c.SIsMember(s.ctx, c.Key("scopes"), fixtures.ScopeUnknown)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisIntegrationSuite) TestWrongTypeIsDatabaseError() {
	prefix := "wrongtype:"
	c := s.newClient(prefix)
	s.Require().NoError(s.admin.Set(s.ctx, prefix+"scopes", "not-a-set", 0).Err())

	_, err := c.SIsMember(s.ctx, c.Key("scopes"), fixtures.ScopeBasic)
	s.Equal(sserr.CodeInternalDatabase, sserr.GetCode(err))
}

func (s *RedisIntegrationSuite) TestClosedClient() {
	c, err := redis.NewClient(s.ctx, redis.Config{URI: s.result.ConnString})
	s.Require().NoError(err)
	s.Require().NoError(c.Close())

	s.Error(c.Health(s.ctx))
}

// ===========================================================================
// Store
// ===========================================================================

func (s *RedisIntegrationSuite) TestStore_GetClient() {
	prefix := "store-client:"
	st := store.NewRedis(s.newClient(prefix))
	s.seed(prefix)

	c, err := st.GetClient(s.ctx, fixtures.Issuer, grant.Identifier)
	s.Require().NoError(err)
	s.Equal(&models.Client{
		ID:         fixtures.Issuer,
		Name:       fixtures.ClientName,
		GrantTypes: []string{grant.Identifier},
		Scopes:     []string{fixtures.ScopeBasic, fixtures.ScopeRead},
	}, c)

	_, err = st.GetClient(s.ctx, fixtures.Issuer, "client_credentials")
	s.True(sserr.IsNotFound(err), "grant type not allowed")

	_, err = st.GetClient(s.ctx, fixtures.UnknownClient, grant.Identifier)
	s.True(sserr.IsNotFound(err))
}

func (s *RedisIntegrationSuite) TestStore_Scopes() {
	prefix := "store-scopes:"
	st := store.NewRedis(s.newClient(prefix))
	s.seed(prefix)

	sc, err := st.GetScope(s.ctx, fixtures.ScopeAdmin)
	s.Require().NoError(err)
	s.Equal(fixtures.ScopeAdmin, sc.ID)

	_, err = st.GetScope(s.ctx, fixtures.ScopeUnknown)
	s.True(sserr.IsNotFound(err))

	client, err := st.GetClient(s.ctx, fixtures.Issuer, grant.Identifier)
	s.Require().NoError(err)
	final, err := st.FinalizeScopes(s.ctx, []models.Scope{
		{ID: fixtures.ScopeBasic}, {ID: fixtures.ScopeAdmin},
	}, grant.Identifier, client)
	s.Require().NoError(err)
	s.Equal([]models.Scope{{ID: fixtures.ScopeBasic}}, final)
}

func (s *RedisIntegrationSuite) TestStore_ConcurrentReads() {
	prefix := "concurrent:"
	st := store.NewRedis(s.newClient(prefix))
	s.seed(prefix)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := st.GetClient(s.ctx, fixtures.Issuer, grant.Identifier)
			assert.NoError(s.T(), err)
			assert.NotNil(s.T(), c)
		}()
	}
	wg.Wait()
}
