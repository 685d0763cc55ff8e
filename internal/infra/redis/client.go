package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/infra/config"
)

const (
	connectTimeout  = 5 * time.Second
	defaultPoolSize = 10
)

// Client is the shared connection pool behind the redis session, revocation,
// rate-limit and handshake repositories.
type Client struct {
	client *redis.Client
	logger *zap.Logger
	addr   string
}

// NewClient dials Redis and fails fast when the first ping does not answer.
func NewClient(ctx context.Context, cfg config.RedisSettings, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := options(cfg)
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	logger.Info("redis session backend connected",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("pool_size", opts.PoolSize),
		zap.Bool("tls", opts.TLSConfig != nil),
	)
	return &Client{client: client, logger: logger, addr: opts.Addr}, nil
}

func options(cfg config.RedisSettings) *redis.Options {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	opts := &redis.Options{
		Addr:            net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        poolSize,
		MinIdleConns:    poolSize / 5,
		MaxRetries:      3,
		DialTimeout:     connectTimeout,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: cfg.Host}
	}
	return opts
}

func (c *Client) Client() *redis.Client {
	return c.client
}

// HealthCheck backs the redis entry of /readyz.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s unreachable: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	stats := c.client.PoolStats()
	c.logger.Info("closing redis session backend",
		zap.Uint32("total_conns", stats.TotalConns),
		zap.Uint32("timeouts", stats.Timeouts),
	)
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// Stats exposes pool counters.
func (c *Client) Stats() *redis.PoolStats {
	return c.client.PoolStats()
}
