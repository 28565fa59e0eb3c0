// Package redis provides a Redis/Valkey cache driver.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/valkey-io/valkey-go"

	"github.com/filen-community/filen-webdav/internal/cache"
	"github.com/filen-community/filen-webdav/internal/logutil"
)

func init() {
	cache.RegisterDriver("redis", func(config map[string]any, logger *slog.Logger) (cache.CacheWithCounter, error) {
		cfg := DefaultConfig()
		if config != nil {
			if err := mapstructure.Decode(config, cfg); err != nil {
				return nil, fmt.Errorf("decode redis cache config: %w", err)
			}
		}
		return New(cfg, logger)
	})
}

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the server address (host:port).
	Addr string `mapstructure:"addr"`

	// Password is the optional AUTH password.
	Password string `mapstructure:"password"`

	// DB is the database number.
	DB int `mapstructure:"db"`

	// DefaultTTLSeconds applies when a caller passes TTL 0.
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:              "localhost:6379",
		DefaultTTLSeconds: 900,
	}
}

// Cache is a Redis/Valkey-backed cache.
type Cache struct {
	client     valkey.Client
	defaultTTL time.Duration
	logger     *slog.Logger
}

// New connects to the configured server.
func New(cfg *Config, logger *slog.Logger) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return &Cache{
		client:     client,
		defaultTTL: time.Duration(cfg.DefaultTTLSeconds) * time.Second,
		logger:     logutil.NoopIfNil(logger),
	}, nil
}

func (c *Cache) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return c.defaultTTL
	}
	return ttl
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	b, err := resp.AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, cache.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ttl = c.ttlOrDefault(ttl)
	return c.client.Do(ctx, c.client.B().Set().Key(key).
		Value(valkey.BinaryString(value)).
		Px(ttl).Build()).Error()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
}

// Exists checks if a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Increment adds delta to a counter. A fresh counter gets the TTL as its
// window; an existing counter keeps its expiry, giving fixed-window
// semantics matching the memory driver.
func (c *Cache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	ttl = c.ttlOrDefault(ttl)
	n, err := c.client.Do(ctx, c.client.B().Incrby().Key(key).Increment(delta).Build()).AsInt64()
	if err != nil {
		return 0, err
	}
	if n == delta {
		if err := c.client.Do(ctx, c.client.B().Pexpire().Key(key).Milliseconds(ttl.Milliseconds()).Build()).Error(); err != nil {
			c.logger.Warn("failed to set counter expiry", "key", key, "error", err)
		}
	}
	return n, nil
}

// GetCount returns the current counter value.
func (c *Cache) GetCount(ctx context.Context, key string) (int64, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	n, err := resp.AsInt64()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Reset sets a counter to 0.
func (c *Cache) Reset(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
}

// Close releases the client.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.CacheWithCounter = (*Cache)(nil)
