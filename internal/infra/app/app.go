package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
	"github.com/arklim/session-service/internal/infra/config"
	"github.com/arklim/session-service/internal/infra/database"
	kafkainfra "github.com/arklim/session-service/internal/infra/kafka"
	"github.com/arklim/session-service/internal/infra/logger"
	natsinfra "github.com/arklim/session-service/internal/infra/nats"
	redisinfra "github.com/arklim/session-service/internal/infra/redis"
	"github.com/arklim/session-service/internal/infra/security"
	"github.com/arklim/session-service/internal/infra/telemetry"
	"github.com/arklim/session-service/internal/repository/memory"
	"github.com/arklim/session-service/internal/repository/natskv"
	postgresrepo "github.com/arklim/session-service/internal/repository/postgres"
	redisrepo "github.com/arklim/session-service/internal/repository/redis"
	"github.com/arklim/session-service/internal/transport/http/handlers"
	"github.com/arklim/session-service/internal/transport/http/middleware"
	"github.com/arklim/session-service/internal/transport/http/routes"
	"github.com/arklim/session-service/internal/usecase"
)

const defaultShutdownTimeout = 10 * time.Second

type Application struct {
	cfg       *config.AppConfig
	engine    *gin.Engine
	logger    *zap.Logger
	telemetry *telemetry.Provider
	closers   []closer
}

type closer struct {
	name  string
	close func() error
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	if err := a.init(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	provider, err := telemetry.Attach(ctx, cfg, registry, log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.telemetry = provider

	readiness := make(map[string]handlers.ReadinessCheck)

	var redisClient *redisinfra.Client
	if cfg.RedisRequired() {
		redisClient, err = redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.onClose("redis", redisClient.Close)
		readiness["redis"] = redisClient.HealthCheck
	}

	store, err := a.buildSessionStore(ctx, redisClient, readiness)
	if err != nil {
		return err
	}

	keyProvider, err := security.NewKeyProvider(cfg.App.Env, cfg.Session.KeyDirectory, cfg.Session.SigningKeyID)
	if err != nil {
		return fmt.Errorf("init key provider: %w", err)
	}
	codec, err := security.NewJWTCodec(keyProvider, cfg.Session.Issuer)
	if err != nil {
		return fmt.Errorf("init token codec: %w", err)
	}
	hasher, err := security.NewRefreshTokenHasher(cfg.Session.RefreshHashSecret)
	if err != nil {
		return fmt.Errorf("init refresh token hasher: %w", err)
	}

	defaults := handshakeDefaults(cfg.Session)
	var source port.HandshakeSource = usecase.NewStaticHandshakeSource(defaults)
	if cfg.Session.HandshakeSource == "redis" {
		source = redisrepo.NewHandshakeRepository(redisClient.Client(), cfg.Session.HandshakeKey, defaults)
	}
	handshake := usecase.NewHandshakeCache(source, log)
	if _, err := handshake.Get(ctx); err != nil {
		return fmt.Errorf("load handshake: %w", err)
	}

	var revocations port.RevocationList = memory.NewRevocationList()
	var rateLimitStore port.RateLimitStore = memory.NewRateLimitStore()
	if redisClient != nil {
		revocations = redisrepo.NewRevocationList(redisClient.Client(), cfg.Redis.RevocationPrefix)
		rateLimitStore = redisrepo.NewRateLimitRepository(redisClient.Client(), cfg.Redis.RateLimitPrefix)
	}

	events := a.buildEventPublisher()

	service := usecase.NewSessionService(store, codec, handshake, events, log).
		WithTokenHasher(hasher).
		WithRevocationList(revocations, cfg.Session.CheckRevocation).
		WithMetrics(provider.Metrics)
	flow := usecase.NewSessionFlow(service, log)

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}

	warnAdminAccess(cfg.App, log)
	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(rateLimitStore, log),
		HTTPMetrics: httpMetrics,
		Flow:        flow,
		Handshake:   handshake,
		Keys:        codec,
		Gatherer:    registry,
		Readiness:   readiness,
	})
	return nil
}

func (a *Application) buildSessionStore(ctx context.Context, redisClient *redisinfra.Client, readiness map[string]handlers.ReadinessCheck) (port.SessionStore, error) {
	cfg, log := a.cfg, a.logger

	switch cfg.Store.Driver {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		a.onClose("postgres", func() error { pool.Close(); return nil })
		readiness["postgres"] = pool.Ping

		if cfg.Postgres.AutoMigrate {
			if err := postgresrepo.EnsureSchema(ctx, pool); err != nil {
				return nil, err
			}
		}
		return postgresrepo.NewSessionStore(pool), nil

	case "redis":
		return redisrepo.NewSessionStore(redisClient.Client(), cfg.Redis.SessionPrefix), nil

	case "natskv":
		client, err := natsinfra.NewClient(cfg.NATS, log)
		if err != nil {
			return nil, fmt.Errorf("init nats: %w", err)
		}
		a.onClose("nats", client.Close)
		readiness["nats"] = client.HealthCheck

		store, err := natskv.NewSessionStore(client.Conn(), nats.KeyValueConfig{
			Bucket:   cfg.NATS.Bucket,
			Replicas: cfg.NATS.Replicas,
			TTL:      cfg.NATS.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("init nats kv store: %w", err)
		}
		return store, nil

	default:
		log.Warn("using in-memory session store, sessions will not survive a restart")
		return memory.NewSessionStore(), nil
	}
}

func (a *Application) buildEventPublisher() port.EventPublisher {
	cfg, log := a.cfg, a.logger

	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(log)
	}

	producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
	if err != nil {
		log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(log)
	}
	a.onClose("kafka", producer.Close)
	log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, cfg.App, log)
}

// warnAdminAccess reports a missing admin key; routes then refuse or, when opted in,
// skip the check.
func warnAdminAccess(s config.AppSettings, log *zap.Logger) {
	if strings.TrimSpace(s.AdminAPIKey) != "" {
		return
	}
	if s.AllowOpenAdmin {
		log.Warn("admin api key not set, session creation and admin routes are open to any caller")
		return
	}
	log.Warn("admin api key not set, session creation and admin routes are disabled")
}

func handshakeDefaults(s config.SessionSettings) domain.HandshakeInfo {
	return domain.HandshakeInfo{
		CookieDomain:         s.CookieDomain,
		CookieSecure:         s.CookieSecure,
		AccessTokenPath:      s.AccessTokenPath,
		RefreshTokenPath:     s.RefreshTokenPath,
		AntiCsrfEnabled:      s.AntiCsrfEnabled,
		AccessTokenValidity:  s.AccessTokenValidity,
		RefreshTokenValidity: s.RefreshTokenValidity,
	}
}

func (a *Application) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

func (a *Application) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("failed to close dependency", zap.String("dependency", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.closeAll()

	shutdownTimeout := a.cfg.App.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.telemetry.Shutdown(flushCtx); err != nil {
			a.logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting session service",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("store", a.cfg.Store.Driver),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down session service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
