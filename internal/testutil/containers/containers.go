//go:build integration

// Package containers starts the Redis, PostgreSQL and MinIO containers
// the store and key-loading integration tests run against.
//
// Everything here is behind the "integration" build tag so Docker
// dependencies stay out of unit test builds:
//
//	//go:build integration
//
// Each Start function returns a result holding the container and the
// settings the matching client config needs. The caller terminates the
// container:
//
//	result, err := containers.StartRedis(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
//
//	cfg := redis.Config{URI: result.ConnString}
package containers

import (
	"context"
	"fmt"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// ===========================================================================
// PostgreSQL
// ===========================================================================

// PostgreSQL container settings. The credentials are for throwaway
// containers only.
const (
	DefaultPostgresImage    = "docker.io/postgres:16-alpine"
	DefaultPostgresDatabase = "oauth_test"
	DefaultPostgresUser     = "oauth"
	DefaultPostgresPassword = "oauth-test-password"
)

// PostgresResult is a started PostgreSQL container.
type PostgresResult struct {
	Container *tcpostgres.PostgresContainer

	// ConnString is a postgres:// URI with sslmode=disable, ready for
	// postgres.Config.URI.
	ConnString string
}

// StartPostgres starts a PostgreSQL 16 container and waits until it
// accepts connections.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		DefaultPostgresImage,
		tcpostgres.WithDatabase(DefaultPostgresDatabase),
		tcpostgres.WithUsername(DefaultPostgresUser),
		tcpostgres.WithPassword(DefaultPostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get postgres connection string: %w", err)
	}
	return &PostgresResult{Container: container, ConnString: connStr}, nil
}

// ===========================================================================
// Redis
// ===========================================================================

// DefaultRedisImage is the Redis image. The container runs without
// authentication.
const DefaultRedisImage = "docker.io/redis:7-alpine"

// RedisResult is a started Redis container.
type RedisResult struct {
	Container *tcredis.RedisContainer

	// ConnString is a redis:// URI, ready for redis.Config.URI.
	ConnString string
}

// StartRedis starts a Redis 7 container.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}
	return &RedisResult{Container: container, ConnString: connStr}, nil
}

// ===========================================================================
// MinIO
// ===========================================================================

// MinIO container settings. The root credentials are for throwaway
// containers only.
const (
	DefaultMinIOImage     = "docker.io/minio/minio:latest"
	DefaultMinIOAccessKey = "minioadmin"
	DefaultMinIOSecretKey = "minioadmin"
)

// MinIOResult is a started MinIO container.
type MinIOResult struct {
	Container *tcminio.MinioContainer

	// Endpoint is host:port of the S3 API, for minio.Config.Endpoint.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// StartMinIO starts a MinIO server container with root credentials.
func StartMinIO(ctx context.Context) (*MinIOResult, error) {
	container, err := tcminio.Run(ctx,
		DefaultMinIOImage,
		tcminio.WithUsername(DefaultMinIOAccessKey),
		tcminio.WithPassword(DefaultMinIOSecretKey),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start minio container: %w", err)
	}

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get minio endpoint: %w", err)
	}
	return &MinIOResult{
		Container: container,
		Endpoint:  endpoint,
		AccessKey: DefaultMinIOAccessKey,
		SecretKey: DefaultMinIOSecretKey,
	}, nil
}
