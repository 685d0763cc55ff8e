package redis

import (
	"context"
	"net"
	"strconv"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/session-service/internal/infra/config"
)

func TestNewClientHealthCheck(t *testing.T) {
	server := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(server.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	client, err := NewClient(context.Background(), config.RedisSettings{Host: host, Port: port}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if client.Stats() == nil {
		t.Fatalf("expected pool stats")
	}

	server.Close()
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatalf("expected health check to fail once the server is gone")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	if _, err := NewClient(context.Background(), config.RedisSettings{Host: "127.0.0.1", Port: 1}, nil); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := options(config.RedisSettings{Host: "cache.internal", Port: 6380, TLSEnabled: true})
	if opts.Addr != "cache.internal:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.PoolSize != defaultPoolSize || opts.MinIdleConns != 2 {
		t.Fatalf("unexpected pool sizing %d/%d", opts.PoolSize, opts.MinIdleConns)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.ServerName != "cache.internal" {
		t.Fatalf("expected tls config for the host, got %+v", opts.TLSConfig)
	}
}
