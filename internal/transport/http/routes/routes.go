package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/infra/config"
	"github.com/arklim/session-service/internal/transport/http/handlers"
	"github.com/arklim/session-service/internal/transport/http/middleware"
	"github.com/arklim/session-service/internal/usecase"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	HTTPMetrics *middleware.HTTPMetrics
	Flow        *usecase.SessionFlow
	Handshake   *usecase.HandshakeCache
	Keys        handlers.KeySet
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
	// Readiness probes reported by /readyz, keyed by dependency name.
	Readiness map[string]handlers.ReadinessCheck
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.HTTPMetrics.Handler())
	if len(deps.Config.CORS.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))
	}

	healthOptions := make([]handlers.HealthOption, 0, len(deps.Readiness))
	for name, check := range deps.Readiness {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck(name, check))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	if deps.Keys != nil {
		r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.Keys).Keys)
	}

	if deps.Flow == nil {
		return r
	}

	api := r.Group("/api/v1")
	{
		expiredStatus := deps.Config.Session.SessionExpiredStatus
		if expiredStatus == 0 {
			expiredStatus = http.StatusUnauthorized
		}

		adminOnly := middleware.RequireAdminKey(deps.Config.App.AdminAPIKey, deps.Config.App.AllowOpenAdmin)
		requireSession := middleware.RequireSession(deps.Flow, expiredStatus)

		sessionHandler := handlers.NewSessionHandler(deps.Flow, expiredStatus)
		sessionGroup := api.Group("/session")

		createHandlers := append([]gin.HandlerFunc{adminOnly}, buildRateLimit(deps, "session_create", deps.Config.RateLimit.CreateMaxAttempts)...)
		createHandlers = append(createHandlers, sessionHandler.CreateSession)
		sessionGroup.POST("", createHandlers...)

		sessionGroup.GET("", requireSession, sessionHandler.VerifySession)

		refreshHandlers := append(buildRateLimit(deps, "session_refresh", deps.Config.RateLimit.RefreshMaxAttempts), sessionHandler.RefreshSession)
		sessionGroup.POST("/refresh", refreshHandlers...)

		sessionGroup.POST("/signout", requireSession, sessionHandler.SignOut)
		sessionGroup.GET("/data", requireSession, sessionHandler.GetSessionData)
		sessionGroup.PUT("/data", requireSession, sessionHandler.UpdateSessionData)

		adminGroup := api.Group("")
		adminGroup.Use(adminOnly)
		handlers.NewAdminHandler(deps.Flow.Service(), deps.Handshake).RegisterRoutes(adminGroup)
	}

	return r
}

func buildRateLimit(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
