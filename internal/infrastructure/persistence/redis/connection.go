// Package redis manages the shared Redis store: the connection lifecycle and
// the persisted session / spam-score records used by multi-instance
// deployments.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/pkg/logger"
)

// Connection manages the Redis client lifecycle. A single address yields a
// standalone client, several yield a cluster client; go-redis picks via
// UniversalOptions.
type Connection struct {
	cfg    config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewConnection builds a connection manager. Connect must be called before
// Client is usable.
func NewConnection(cfg config.RedisConfig, log logger.Logger) *Connection {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Connection{cfg: cfg, logger: log.WithComponent("RedisConnection")}
}

// Connect establishes the client and verifies connectivity with a ping.
func (c *Connection) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	addrs := c.cfg.Addresses
	if len(addrs) == 0 {
		addrs = []string{"localhost:6379"}
	}
	dialTimeout := c.cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		Password:     c.cfg.Password,
		DB:           c.cfg.DB,
		PoolSize:     c.cfg.PoolSize,
		MinIdleConns: c.cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.client = client
	c.logger.Info(ctx, "redis connection established",
		logger.Any("addrs", addrs),
		logger.Int("db", c.cfg.DB),
	)
	return nil
}

// Client returns the connected client, or nil before Connect succeeds.
func (c *Connection) Client() redis.UniversalClient {
	return c.client
}

// Ping checks connectivity for health probes.
func (c *Connection) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis connection not initialized")
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Connection) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
