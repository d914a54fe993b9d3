package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-jwtbearer/internal/testutil"
	"github.com/StricklySoft/stricklysoft-jwtbearer/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/grant"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/models"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/store"
)

var (
	_ grant.ClientRepository = (*store.Memory)(nil)
	_ grant.ScopeRepository  = (*store.Memory)(nil)
	_ grant.ClientRepository = (*store.Redis)(nil)
	_ grant.ScopeRepository  = (*store.Redis)(nil)
	_ grant.ClientRepository = (*store.Postgres)(nil)
	_ grant.ScopeRepository  = (*store.Postgres)(nil)
	_ store.HealthChecker    = (*store.Redis)(nil)
	_ store.HealthChecker    = (*store.Postgres)(nil)
)

// repository is what every backend offers the grant.
type repository interface {
	grant.ClientRepository
	grant.ScopeRepository
}

// ===========================================================================
// Backend fixtures
// ===========================================================================

func seededMemory(t *testing.T) repository {
	t.Helper()
	m, err := store.LoadSeed([]byte(fixtures.TestSeedYAML))
	require.NoError(t, err)
	return m
}

func seededRedis(t *testing.T) repository {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.HSet(redis.DefaultKeyPrefix+"client:"+fixtures.Issuer,
		"name", fixtures.ClientName,
		"grant_types", grant.Identifier,
		"scopes", fixtures.ScopeBasic+" "+fixtures.ScopeRead,
	)
	_, err := mr.SAdd(redis.DefaultKeyPrefix+"scopes", fixtures.ScopeBasic, fixtures.ScopeRead, fixtures.ScopeAdmin)
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store.NewRedis(redis.NewFromClient(rdb, &redis.Config{KeyPrefix: redis.DefaultKeyPrefix}))
}

// ===========================================================================
// Behaviour shared by the in-memory and Redis backends
// ===========================================================================

func TestBackends(t *testing.T) {
	t.Parallel()
	backends := map[string]func(*testing.T) repository{
		"memory": seededMemory,
		"redis":  seededRedis,
	}
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			repo := newRepo(t)

			c, err := repo.GetClient(ctx, fixtures.Issuer, grant.Identifier)
			require.NoError(t, err)
			assert.Equal(t, fixtures.Issuer, c.ID)
			assert.Equal(t, fixtures.ClientName, c.Name)
			assert.Equal(t, []string{fixtures.ScopeBasic, fixtures.ScopeRead}, c.Scopes)

			_, err = repo.GetClient(ctx, fixtures.UnknownClient, grant.Identifier)
			testutil.AssertErrorCode(t, err, sserr.CodeNotFound)

			_, err = repo.GetClient(ctx, fixtures.Issuer, "client_credentials")
			testutil.AssertErrorCode(t, err, sserr.CodeNotFound, "grant type restriction")

			s, err := repo.GetScope(ctx, fixtures.ScopeRead)
			require.NoError(t, err)
			assert.Equal(t, fixtures.ScopeRead, s.ID)

			_, err = repo.GetScope(ctx, fixtures.ScopeUnknown)
			testutil.AssertErrorCode(t, err, sserr.CodeNotFound)

			requested := []models.Scope{{ID: fixtures.ScopeAdmin}, {ID: fixtures.ScopeRead}, {ID: fixtures.ScopeBasic}}
			final, err := repo.FinalizeScopes(ctx, requested, grant.Identifier, c)
			require.NoError(t, err)
			assert.Equal(t, []string{fixtures.ScopeRead, fixtures.ScopeBasic}, models.ScopeIDs(final))
		})
	}
}

// ===========================================================================
// Memory
// ===========================================================================

func TestMemory_UnrestrictedClient(t *testing.T) {
	t.Parallel()
	m := store.NewMemory()
	require.NoError(t, m.AddClient(&models.Client{ID: "open"}))

	c, err := m.GetClient(context.Background(), "open", "anything")
	require.NoError(t, err)

	requested := []models.Scope{{ID: "a"}, {ID: "b"}}
	final, err := m.FinalizeScopes(context.Background(), requested, grant.Identifier, c)
	require.NoError(t, err)
	assert.Equal(t, requested, final)

	final, err = m.FinalizeScopes(context.Background(), requested, grant.Identifier, nil)
	require.NoError(t, err)
	assert.Empty(t, final)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	t.Parallel()
	m := store.NewMemory()
	orig := &models.Client{ID: "app", Scopes: []string{"basic"}}
	require.NoError(t, m.AddClient(orig))
	orig.Scopes[0] = "admin"

	c, err := m.GetClient(context.Background(), "app", grant.Identifier)
	require.NoError(t, err)
	assert.Equal(t, []string{"basic"}, c.Scopes)

	c.Scopes[0] = "admin"
	again, err := m.GetClient(context.Background(), "app", grant.Identifier)
	require.NoError(t, err)
	assert.Equal(t, []string{"basic"}, again.Scopes)
}

func TestMemory_RejectsInvalidEntries(t *testing.T) {
	t.Parallel()
	m := store.NewMemory()
	assert.True(t, sserr.IsValidation(m.AddClient(nil)))
	assert.True(t, sserr.IsValidation(m.AddClient(&models.Client{})))
	assert.True(t, sserr.IsValidation(m.AddScope(models.Scope{ID: "has space"})))
}

func TestMemory_Concurrent(t *testing.T) {
	t.Parallel()
	m := seededMemory(t).(*store.Memory)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.GetClient(context.Background(), fixtures.Issuer, grant.Identifier)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, m.AddScope(models.Scope{ID: "extra"}))
		}()
	}
	wg.Wait()
}

func TestLoadSeed_Errors(t *testing.T) {
	t.Parallel()
	_, err := store.LoadSeed([]byte("clients: [unclosed"))
	testutil.AssertErrorCode(t, err, sserr.CodeValidationFormat)

	_, err = store.LoadSeed([]byte("clients:\n  - name: no id\n"))
	assert.True(t, sserr.IsValidation(err))
}

func TestLoadSeedFile(t *testing.T) {
	t.Parallel()
	path := testutil.TempFile(t, "seed.yaml", fixtures.TestSeedYAML)
	m, err := store.LoadSeedFile(path)
	require.NoError(t, err)
	_, err = m.GetScope(context.Background(), fixtures.ScopeAdmin)
	require.NoError(t, err)

	_, err = store.LoadSeedFile(path + ".missing")
	testutil.AssertErrorCode(t, err, sserr.CodeInternalConfiguration)
}

func TestBackend_Valid(t *testing.T) {
	t.Parallel()
	for _, b := range []store.Backend{store.BackendMemory, store.BackendRedis, store.BackendPostgres} {
		assert.True(t, b.Valid(), b)
	}
	assert.False(t, store.Backend("etcd").Valid())
}

// ===========================================================================
// Redis
// ===========================================================================

func TestRedis_StoreErrorsPropagate(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set(redis.DefaultKeyPrefix+"scopes", "not a set"))
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := store.NewRedis(redis.NewFromClient(rdb, &redis.Config{KeyPrefix: redis.DefaultKeyPrefix}))

	_, err := s.GetScope(context.Background(), fixtures.ScopeBasic)
	testutil.AssertErrorCode(t, err, sserr.CodeInternalDatabase)
	assert.NoError(t, s.Health(context.Background()))
}

// ===========================================================================
// Postgres
// ===========================================================================

func newPostgres(t *testing.T) (*store.Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return store.NewPostgres(postgres.NewFromPool(mock, &postgres.Config{Database: fixtures.TestDBName})), mock
}

func TestPostgres_GetClient(t *testing.T) {
	t.Parallel()
	s, mock := newPostgres(t)
	mock.ExpectQuery(`SELECT id, name, grant_types, scopes FROM oauth_clients WHERE id = \$1`).
		WithArgs(fixtures.Issuer).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "grant_types", "scopes"}).
			AddRow(fixtures.Issuer, fixtures.ClientName, []string{grant.Identifier}, []string{fixtures.ScopeBasic}))

	c, err := s.GetClient(context.Background(), fixtures.Issuer, grant.Identifier)
	require.NoError(t, err)
	assert.Equal(t, &models.Client{
		ID:         fixtures.Issuer,
		Name:       fixtures.ClientName,
		GrantTypes: []string{grant.Identifier},
		Scopes:     []string{fixtures.ScopeBasic},
	}, c)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetClient_NotFound(t *testing.T) {
	t.Parallel()
	s, mock := newPostgres(t)
	mock.ExpectQuery(`FROM oauth_clients`).WithArgs(fixtures.UnknownClient).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "grant_types", "scopes"}))

	_, err := s.GetClient(context.Background(), fixtures.UnknownClient, grant.Identifier)
	testutil.AssertErrorCode(t, err, sserr.CodeNotFound)
}

func TestPostgres_GetClient_GrantNotAllowed(t *testing.T) {
	t.Parallel()
	s, mock := newPostgres(t)
	mock.ExpectQuery(`FROM oauth_clients`).WithArgs(fixtures.Issuer).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "grant_types", "scopes"}).
			AddRow(fixtures.Issuer, "", []string{"client_credentials"}, []string{}))

	_, err := s.GetClient(context.Background(), fixtures.Issuer, grant.Identifier)
	testutil.AssertErrorCode(t, err, sserr.CodeNotFound)
}

func TestPostgres_GetClient_DatabaseError(t *testing.T) {
	t.Parallel()
	s, mock := newPostgres(t)
	mock.ExpectQuery(`FROM oauth_clients`).WithArgs(fixtures.Issuer).WillReturnError(context.DeadlineExceeded)

	_, err := s.GetClient(context.Background(), fixtures.Issuer, grant.Identifier)
	testutil.AssertErrorCode(t, err, sserr.CodeTimeoutDatabase)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetScope(t *testing.T) {
	t.Parallel()
	s, mock := newPostgres(t)
	mock.ExpectQuery(`SELECT id, description FROM oauth_scopes WHERE id = \$1`).
		WithArgs(fixtures.ScopeRead).
		WillReturnRows(pgxmock.NewRows([]string{"id", "description"}).AddRow(fixtures.ScopeRead, "Read access"))
	mock.ExpectQuery(`FROM oauth_scopes`).WithArgs(fixtures.ScopeUnknown).
		WillReturnRows(pgxmock.NewRows([]string{"id", "description"}))

	sc, err := s.GetScope(context.Background(), fixtures.ScopeRead)
	require.NoError(t, err)
	assert.Equal(t, &models.Scope{ID: fixtures.ScopeRead, Description: "Read access"}, sc)

	_, err = s.GetScope(context.Background(), fixtures.ScopeUnknown)
	testutil.AssertErrorCode(t, err, sserr.CodeNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FinalizeScopes(t *testing.T) {
	t.Parallel()
	s, _ := newPostgres(t)
	client := &models.Client{ID: "app", Scopes: []string{fixtures.ScopeRead}}

	final, err := s.FinalizeScopes(context.Background(),
		[]models.Scope{{ID: fixtures.ScopeBasic}, {ID: fixtures.ScopeRead}}, grant.Identifier, client)
	require.NoError(t, err)
	assert.Equal(t, []models.Scope{{ID: fixtures.ScopeRead}}, final)
}
