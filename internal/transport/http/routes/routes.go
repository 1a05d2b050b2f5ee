package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/config"
	"github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/handlers"
	"github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/middleware"
)

// AuthService is what the HTTP layer needs from the auth usecase.
type AuthService interface {
	handlers.AuthAPI
	middleware.TokenValidator
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config         *config.AppConfig
	Logger         *zap.Logger
	Auth           AuthService
	RateLimiter    *middleware.RateLimiter
	HTTPMetrics    *middleware.HTTPMetrics
	MetricsHandler http.Handler
	TracerProvider trace.TracerProvider
	Database       DatabaseChecker
	Cache          CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config != nil && config.IsProduction(deps.Config.App.Env) {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing(middleware.TracingOptions{TracerProvider: deps.TracerProvider}))
	r.Use(middleware.RequestID())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.Logger(logger))
	r.Use(deps.HTTPMetrics.Handler())
	if deps.Config != nil && len(deps.Config.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	if deps.Auth == nil {
		return r
	}

	authMiddleware := middleware.RequireAuth(deps.Auth)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		authHandler := handlers.NewAuthHandler(deps.Auth).WithRefreshCookie(refreshCookie(deps.Config))
		authHandler.RegisterRoutes(authGroup, authMiddleware, buildEdgeMiddlewares(deps)...)

		sessionGroup := api.Group("/sessions")
		sessionGroup.Use(authMiddleware)
		handlers.NewSessionHandler(deps.Auth).RegisterRoutes(sessionGroup)
	}

	return r
}

// buildEdgeMiddlewares caps unauthenticated auth traffic per client IP. The per-identity
// throttles live in the auth service.
func buildEdgeMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	edge := deps.Config.RateLimit.EdgeIP
	if edge.Limit <= 0 || edge.Window <= 0 {
		return nil
	}

	rule := middleware.RateLimitRule{
		Name:       "edge_ip",
		Limit:      edge.Limit,
		Window:     edge.Window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}

func refreshCookie(cfg *config.AppConfig) handlers.RefreshCookie {
	if cfg == nil {
		return handlers.RefreshCookie{}
	}
	return handlers.RefreshCookie{
		Name:     cfg.Cookie.Name,
		Path:     cfg.Cookie.Path,
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.Cookie.Secure,
		SameSite: handlers.ParseSameSite(cfg.Cookie.SameSite),
	}
}
