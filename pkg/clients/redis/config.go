// Package redis provides the traced Redis client behind the Redis-backed
// client and scope store.
//
// The client wraps go-redis (github.com/redis/go-redis/v9) and exposes only
// the read operations the store needs: hashes for client records and sets
// for the scope catalogue. Every call runs in an OpenTelemetry client span
// and returns a classified [*sserr.Error].
//
// Create a client with [NewClient] for production use, or [NewFromClient]
// to inject a fake:
//
//	cfg := redis.DefaultConfig()
//	cfg.Host = "localhost"
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package redis

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// maxStatementTruncateLen caps db.statement span attributes.
const maxStatementTruncateLen = 100

// Defaults applied by [DefaultConfig] and [Config.Validate].
const (
	DefaultHost          = "localhost"
	DefaultPort          = 6379
	DefaultPoolSize      = 10
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 3 * time.Second
	DefaultHealthTimeout = 5 * time.Second

	// DefaultKeyPrefix namespaces every key the store reads.
	DefaultKeyPrefix = "jwtbearer:"
)

// Secret is a string that redacts itself when printed or serialized.
// Use [Secret.Value] to read the raw string.
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

// Config holds the Redis connection settings. When URI is set it takes
// precedence over Host, Port, DB and Password.
type Config struct {
	// URI is a redis:// or rediss:// connection string.
	URI string `json:"uri,omitempty" yaml:"uri" env:"URI"`

	Host     string `json:"host,omitempty" yaml:"host" env:"HOST"`
	Port     int    `json:"port,omitempty" yaml:"port" env:"PORT"`
	DB       int    `json:"db" yaml:"db" env:"DB"`
	Password Secret `json:"-" yaml:"password" env:"PASSWORD"`

	PoolSize    int           `json:"pool_size,omitempty" yaml:"pool_size" env:"POOL_SIZE"`
	DialTimeout time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout" env:"READ_TIMEOUT"`
	TLSEnabled  bool          `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"TLS_ENABLED"`

	// KeyPrefix is prepended to every key, e.g. "jwtbearer:client:<id>".
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DefaultConfig returns a Config for a local Redis on the default port.
func DefaultConfig() *Config {
	return &Config{
		Host:        DefaultHost,
		Port:        DefaultPort,
		PoolSize:    DefaultPoolSize,
		DialTimeout: DefaultDialTimeout,
		ReadTimeout: DefaultReadTimeout,
		KeyPrefix:   DefaultKeyPrefix,
	}
}

// Validate applies defaults to zero-valued fields and reports the first
// invalid setting.
func (c *Config) Validate() error {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 {
		return fmt.Errorf("redis: config timeouts must not be negative")
	}
	if strings.ContainsAny(c.KeyPrefix, " \t\r\n") {
		return fmt.Errorf("redis: config key_prefix must not contain whitespace")
	}

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DB < 0 {
		return fmt.Errorf("redis: config db must not be negative, got %d", c.DB)
	}
	return nil
}

// Key joins the configured prefix and the given parts with ':'.
func (c *Config) Key(parts ...string) string {
	return c.KeyPrefix + strings.Join(parts, ":")
}

// truncateStatement shortens s to [maxStatementTruncateLen] runes.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
