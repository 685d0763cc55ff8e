package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/infra/config"
)

// Client wraps a NATS connection with health check and lifecycle management.
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewClient connects to the configured server and logs connection state changes.
func NewClient(cfg config.NATSSettings, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("session-service"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	logger.Info("nats connection established",
		zap.String("url", conn.ConnectedUrlRedacted()),
		zap.String("bucket", cfg.Bucket),
	)

	return &Client{conn: conn, logger: logger}, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// HealthCheck reports an error when the connection is not usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("nats health check failed: status %s", c.conn.Status())
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats health check failed: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() error {
	c.logger.Info("closing nats connection")
	if err := c.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
