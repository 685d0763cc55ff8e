package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Session   SessionSettings   `mapstructure:"session"`
	Store     StoreSettings     `mapstructure:"store"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	NATS      NATSSettings      `mapstructure:"nats"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	CORS      CORSSettings      `mapstructure:"cors"`
}

type AppSettings struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	LogLevel        string        `mapstructure:"log_level"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AdminAPIKey     string        `mapstructure:"admin_api_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AllowOpenAdmin serves admin routes and session creation without a key when
	// AdminAPIKey is empty. Refused in production.
	AllowOpenAdmin bool `mapstructure:"allow_unauthenticated_admin"`
}

// SessionSettings holds the handshake defaults and token signing parameters.
type SessionSettings struct {
	CookieDomain         string        `mapstructure:"cookie_domain"`
	CookieSecure         bool          `mapstructure:"cookie_secure"`
	AccessTokenPath      string        `mapstructure:"access_token_path"`
	RefreshTokenPath     string        `mapstructure:"refresh_token_path"`
	AntiCsrfEnabled      bool          `mapstructure:"anti_csrf_enabled"`
	AccessTokenValidity  time.Duration `mapstructure:"access_token_validity"`
	RefreshTokenValidity time.Duration `mapstructure:"refresh_token_validity"`
	KeyDirectory         string        `mapstructure:"key_directory"`
	SigningKeyID         string        `mapstructure:"signing_key_id"`
	Issuer               string        `mapstructure:"issuer"`
	RefreshHashSecret    string        `mapstructure:"refresh_hash_secret"`
	CheckRevocation      bool          `mapstructure:"check_revocation"`
	SessionExpiredStatus int           `mapstructure:"session_expired_status"`
	HandshakeSource      string        `mapstructure:"handshake_source"`
	HandshakeKey         string        `mapstructure:"handshake_key"`
}

// StoreSettings selects the session store backend: memory, postgres, redis or natskv.
type StoreSettings struct {
	Driver string `mapstructure:"driver"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// RedisSettings configures Redis connection, TLS and key prefixes
type RedisSettings struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	DB               int    `mapstructure:"db"`
	Password         string `mapstructure:"password"`
	TLSEnabled       bool   `mapstructure:"tls_enabled"`
	PoolSize         int    `mapstructure:"pool_size"`
	SessionPrefix    string `mapstructure:"session_prefix"`
	RevocationPrefix string `mapstructure:"revocation_prefix"`
	RateLimitPrefix  string `mapstructure:"rate_limit_prefix"`
}

// NATSSettings configures the JetStream KV session store.
type NATSSettings struct {
	URL      string        `mapstructure:"url"`
	Bucket   string        `mapstructure:"bucket"`
	Replicas int           `mapstructure:"replicas"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration     time.Duration `mapstructure:"window_duration"`
	CreateMaxAttempts  int           `mapstructure:"create_max_attempts"`
	RefreshMaxAttempts int           `mapstructure:"refresh_max_attempts"`
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SESSION")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.log_level",
		"app.env",
		"app.host",
		"app.port",
		"app.admin_api_key",
		"app.allow_unauthenticated_admin",
		"app.shutdown_timeout",
		"session.cookie_domain",
		"session.cookie_secure",
		"session.access_token_path",
		"session.refresh_token_path",
		"session.anti_csrf_enabled",
		"session.access_token_validity",
		"session.refresh_token_validity",
		"session.key_directory",
		"session.signing_key_id",
		"session.issuer",
		"session.refresh_hash_secret",
		"session.check_revocation",
		"session.session_expired_status",
		"session.handshake_source",
		"session.handshake_key",
		"store.driver",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.auto_migrate",
		"redis.enabled",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.pool_size",
		"redis.session_prefix",
		"redis.revocation_prefix",
		"redis.rate_limit_prefix",
		"nats.url",
		"nats.bucket",
		"nats.replicas",
		"nats.ttl",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.create_max_attempts",
		"rate_limit.refresh_max_attempts",
		"cors.allowed_origins",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *AppConfig) Validate() error {
	if c.App.Env == "production" {
		if strings.TrimSpace(c.App.AdminAPIKey) == "" {
			return fmt.Errorf("config: app.admin_api_key is required in production")
		}
		if c.App.AllowOpenAdmin {
			return fmt.Errorf("config: app.allow_unauthenticated_admin is not allowed in production")
		}
	}
	switch c.Store.Driver {
	case "memory", "postgres", "redis", "natskv":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Session.HandshakeSource {
	case "static", "redis":
	default:
		return fmt.Errorf("config: unknown handshake source %q", c.Session.HandshakeSource)
	}
	if c.Session.HandshakeSource == "redis" && !c.RedisRequired() {
		return fmt.Errorf("config: redis handshake source requires redis.enabled")
	}
	if c.Session.RefreshTokenValidity <= 0 {
		return fmt.Errorf("config: session.refresh_token_validity must be positive")
	}
	if c.Session.AccessTokenValidity < 0 {
		return fmt.Errorf("config: session.access_token_validity must not be negative")
	}
	return nil
}

// RedisRequired reports whether any component needs a Redis connection.
func (c *AppConfig) RedisRequired() bool {
	return c.Redis.Enabled || c.Store.Driver == "redis"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "session-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.admin_api_key", "")
	v.SetDefault("app.allow_unauthenticated_admin", false)
	v.SetDefault("app.shutdown_timeout", "10s")

	v.SetDefault("session.cookie_domain", "")
	v.SetDefault("session.cookie_secure", false)
	v.SetDefault("session.access_token_path", "/")
	v.SetDefault("session.refresh_token_path", "/api/v1/session/refresh")
	v.SetDefault("session.anti_csrf_enabled", true)
	v.SetDefault("session.access_token_validity", "1h")
	v.SetDefault("session.refresh_token_validity", "2400h")
	v.SetDefault("session.key_directory", "./secrets")
	v.SetDefault("session.signing_key_id", "")
	v.SetDefault("session.issuer", "session-service")
	v.SetDefault("session.refresh_hash_secret", "")
	v.SetDefault("session.check_revocation", false)
	v.SetDefault("session.session_expired_status", 401)
	v.SetDefault("session.handshake_source", "static")
	v.SetDefault("session.handshake_key", "session:handshake")

	v.SetDefault("store.driver", "memory")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "session")
	v.SetDefault("postgres.password", "session_password")
	v.SetDefault("postgres.database", "session")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.session_prefix", "session:record")
	v.SetDefault("redis.revocation_prefix", "session:revoked")
	v.SetDefault("redis.rate_limit_prefix", "session:ratelimit")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.bucket", "SESSIONS")
	v.SetDefault("nats.replicas", 1)
	v.SetDefault("nats.ttl", "0s")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "session")
	v.SetDefault("kafka.async", true)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "session-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.create_max_attempts", 20)
	v.SetDefault("rate_limit.refresh_max_attempts", 10)

	v.SetDefault("cors.allowed_origins", []string{})
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "SESSION_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
