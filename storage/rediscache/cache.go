// Package rediscache implements storage.Cache on Redis so several athena
// processes can share embedding and summary results.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/poiesic/athena/storage"
)

const defaultKeyPrefix = "athena:"

// Cache implements storage.Cache with plain Redis string values.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

var _ storage.Cache = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache) error

// WithKeyPrefix namespaces every key. Defaults to "athena:".
func WithKeyPrefix(prefix string) Option {
	return func(c *Cache) error {
		c.keyPrefix = prefix
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// New connects to Redis at addr and verifies the connection.
func New(ctx context.Context, addr, password string, db int, opts ...Option) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewWithClient(client, opts...)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, opts ...Option) (*Cache, error) {
	c := &Cache{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		logger:    slog.Default().With("component", "redis-cache"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get returns the cached value for key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return value, true, nil
}

// Put stores value under key. A ttl of 0 keeps the entry until evicted.
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) key(key string) string {
	return c.keyPrefix + key
}
