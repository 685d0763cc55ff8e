package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/infra/config"
)

// Provider bundles the session metrics and the optional tracer provider.
type Provider struct {
	Metrics *SessionMetrics
	tracing *TracerProvider
}

// Attach registers session metrics and starts OTLP tracing when an endpoint is configured.
func Attach(ctx context.Context, cfg *config.AppConfig, reg prometheus.Registerer, logger *zap.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics, err := NewSessionMetrics(reg, "session")
	if err != nil {
		return nil, err
	}

	provider := &Provider{Metrics: metrics}
	if cfg.Telemetry.OTLPEndpoint == "" {
		logger.Info("otlp endpoint not configured, tracing disabled")
		return provider, nil
	}

	tracing, err := NewTracerProvider(ctx, cfg.Telemetry, cfg.App.Env, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	provider.tracing = tracing
	return provider, nil
}

// Shutdown flushes spans when tracing is enabled.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracing == nil {
		return nil
	}
	return p.tracing.Shutdown(ctx)
}
