// Package redis builds the shared go-redis handle backing the counter
// store. Construction pings the backend so a bad URL fails at startup
// rather than on the first metered request.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"formgate/internal/platform/config"
)

// Client wraps the go-redis client so platform code can health-check it
// without importing the driver.
type Client struct {
	*redis.Client
}

// New dials Redis from the configured URL. An empty URL means the shared
// backend is not configured; callers fall back to the local counter
// provider.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	// Pool sizing and timeouts come from the environment, not the URL.
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health reports whether the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}
