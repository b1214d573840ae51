// Package redis backs hedgebot's shared state with Redis: the price and
// symbol-rules caches, the order rate limiter, the engine lock, the event bus
// and the prediction store read by the signal source.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// DefaultPrefix namespaces keys when ClientConfig.Prefix is empty.
const DefaultPrefix = "hedgebot:"

// ClientConfig describes the Redis deployment the bot shares with its signal
// producers.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	Prefix     string

	// OpTimeout bounds each read and write; zero keeps the driver default.
	OpTimeout time.Duration
}

// Client is the connection shared by every Redis-backed component. All keys
// it hands out carry the configured prefix so several bots can share a
// database.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection. An unreachable server is
// reported as a transient error so startup can be retried.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{rdb: redis.NewClient(opts), prefix: cfg.Prefix}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return c, nil
}

// Ping backs the /api/health redis check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", domain.Transient(err))
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key namespaces k under the bot's prefix.
func (c *Client) Key(k string) string {
	return c.prefix + k
}
