// Package minio provides the traced S3-compatible object store client that
// serves s3://bucket/object key sources.
//
// The client wraps minio-go (github.com/minio/minio-go/v7) and only reads:
// [Client.ReadObject] stats an object, enforces a size limit and returns its
// content. Missing buckets and objects are reported as [sserr.CodeNotFound].
//
//	cfg := minio.DefaultConfig()
//	cfg.AccessKey = "jwtbearer"
//	cfg.SecretKey = minio.Secret(os.Getenv("MINIO_SECRET_KEY"))
//	client, err := minio.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	loader := keys.NewLoader(keys.WithObjectReader(client))
package minio

import (
	"errors"
	"time"
)

// maxStatementTruncateLen caps db.statement span attributes.
const maxStatementTruncateLen = 100

const (
	DefaultEndpoint      = "localhost:9000"
	DefaultRegion        = "us-east-1"
	DefaultHealthTimeout = 5 * time.Second

	// defaultHealthBucket is probed when HealthBucket is empty. It need
	// not exist.
	defaultHealthBucket = "health-check-probe"
)

// Secret is a string that redacts itself when printed or serialized.
type Secret string

const redacted = "[REDACTED]"

// String returns "[REDACTED]".
func (s Secret) String() string { return redacted }

// GoString returns "[REDACTED]".
func (s Secret) GoString() string { return redacted }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// MarshalText returns "[REDACTED]".
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds the object store connection settings.
type Config struct {
	// Endpoint is host:port without a scheme.
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey Secret `json:"-" yaml:"secret_key" env:"SECRET_KEY"`
	Region    string `json:"region,omitempty" yaml:"region" env:"REGION"`
	UseSSL    bool   `json:"use_ssl,omitempty" yaml:"use_ssl" env:"USE_SSL"`

	// HealthBucket is the bucket probed by health checks, typically the
	// bucket holding key material.
	HealthBucket string `json:"health_bucket,omitempty" yaml:"health_bucket" env:"HEALTH_BUCKET"`
}

// DefaultConfig returns a Config for a local MinIO server.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Region:   DefaultRegion,
	}
}

// Validate checks required fields and defaults the region.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	return nil
}

func (c *Config) healthBucket() string {
	if c.HealthBucket == "" {
		return defaultHealthBucket
	}
	return c.HealthBucket
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
