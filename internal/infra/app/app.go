package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/config"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/database"
	kafkainfra "github.com/heyavanindra/FrenCircle-sub001/internal/infra/kafka"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/logger"
	redisinfra "github.com/heyavanindra/FrenCircle-sub001/internal/infra/redis"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/security"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/telemetry"
	"github.com/heyavanindra/FrenCircle-sub001/internal/repository"
	postgresrepo "github.com/heyavanindra/FrenCircle-sub001/internal/repository/postgres"
	redisrepo "github.com/heyavanindra/FrenCircle-sub001/internal/repository/redis"
	"github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/middleware"
	"github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/routes"
	"github.com/heyavanindra/FrenCircle-sub001/internal/usecase"
)

const tracerName = "github.com/heyavanindra/FrenCircle-sub001/internal/usecase"

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	audit    *usecase.AuditRecorder
	sweeper  *usecase.ExpirySweeper
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &Application{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			app.close(context.Background())
		}
	}()

	if app.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	metrics, err := telemetry.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	if app.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log); err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, app.pool, database.MigrateUp, log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	repos := postgresrepo.NewRepositories(app.pool)

	var rateLimitStore port.RateLimitStore = repos.RateLimits
	var cache routes.CacheChecker
	if strings.EqualFold(cfg.RateLimit.Backend, "redis") {
		if app.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log); err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		rateLimitStore = redisrepo.NewRateLimitRepository(app.redis.Client(), redisrepo.FixedWindowConfig{
			KeyPrefix: cfg.Redis.RateLimitPrefix,
			Grace:     time.Second,
		})
		cache = app.redis
	}

	var events port.EventPublisher
	auditWriters := []port.AuditWriter{repos.Audit}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			events = kafkainfra.NewStubPublisher(log)
		} else {
			producer.OnError(metrics.PublishFailed)
			app.producer = producer
			publisher := kafkainfra.NewEventPublisher(producer, cfg.App, cfg.Kafka.AuditTopic, log)
			events = publisher
			if cfg.Kafka.AuditTopic != "" {
				auditWriters = append(auditWriters, publisher)
			}
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		events = kafkainfra.NewStubPublisher(log)
	}

	retry := repository.RetryPolicy{
		Timeout:     cfg.Store.Timeout,
		MaxAttempts: cfg.Store.MaxAttempts,
		Backoff:     cfg.Store.Backoff,
	}

	app.audit = usecase.NewAuditRecorder(usecase.AuditSettings{
		BufferSize:   cfg.Audit.BufferSize,
		Workers:      cfg.Audit.Workers,
		WriteTimeout: cfg.Audit.WriteTimeout,
	}, log, metrics, auditWriters...)

	reuseMode := domain.ReusePolicyRevokeFamily
	if cfg.Security.ReuseRevokesSession {
		reuseMode = domain.ReusePolicyRevokeSession
	}

	sessions := usecase.NewSessionManager(repos.Sessions, repos.Transactor, usecase.SessionPolicy{
		IdleTimeout:      cfg.Session.IdleTimeout,
		AbsoluteLifetime: cfg.Session.AbsoluteLifetime,
	}, log).WithEvents(events).WithAudit(app.audit).WithRetryPolicy(retry)

	rotator := usecase.NewRefreshRotator(repos.Transactor, repos.RefreshTokens, sessions, usecase.RotatorSettings{
		RefreshTTL:  cfg.JWT.RefreshTokenTTL,
		ReusePolicy: domain.NewReusePolicy(reuseMode),
	}, log).WithEvents(events).WithAudit(app.audit).WithMetrics(metrics).WithRetryPolicy(retry)

	keyProvider, err := security.NewKeyProvider(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	issuer := usecase.NewAccessTokenIssuer(
		security.NewJWTManager(keyProvider, cfg.JWT.Issuer, cfg.JWT.Audience),
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.GeneralLeeway,
	)

	limiter := usecase.NewRateLimiter(rateLimitStore, retry, log)
	codeHasher := security.NewCodeHasher(cfg.OTP.Pepper)

	otp := usecase.NewOneTimeCodeEngine[domain.EmailSubject](repos.OtpCodes, codeHasher, limiter,
		rule(cfg.RateLimit.OTPRequest), usecase.CodeSettings{
			TTL:         cfg.OTP.TTL,
			MaxAttempts: cfg.OTP.MaxAttempts,
			Length:      cfg.OTP.Length,
		}, log).WithRetryPolicy(retry)
	twoFactorCodes := usecase.NewOneTimeCodeEngine[domain.TwoFactorSubject](repos.TwoFactorCodes, codeHasher, limiter,
		rule(cfg.RateLimit.TwoFactor), usecase.CodeSettings{
			TTL:         cfg.TwoFactor.TTL,
			MaxAttempts: cfg.TwoFactor.MaxAttempts,
			Length:      cfg.TwoFactor.Length,
		}, log).WithRetryPolicy(retry)

	hasher, err := security.NewArgon2Hasher(port.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	authService := usecase.NewAuthService(usecase.AuthDependencies{
		Users:          repos.Users,
		TwoFactor:      repos.TwoFactorMethods,
		Sessions:       sessions,
		Rotator:        rotator,
		Issuer:         issuer,
		Limiter:        limiter,
		Otp:            otp,
		TwoFactorCodes: twoFactorCodes,
		Passwords:      hasher,
		PasswordPolicy: security.DefaultPasswordPolicy(cfg.Security.PasswordMinScore),
		Notifier:       usecase.NewLoggingNotifier(log),
		Events:         events,
		Audit:          app.audit,
		Metrics:        metrics,
		Tracer:         app.tracer.Tracer(tracerName),
		Retry:          retry,
	}, usecase.AuthSettings{
		LoginIP:       rule(cfg.RateLimit.LoginIP),
		LoginEmail:    rule(cfg.RateLimit.LoginEmail),
		RefreshIP:     rule(cfg.RateLimit.RefreshIP),
		TwoFactor:     rule(cfg.RateLimit.TwoFactor),
		RefreshTTL:    cfg.JWT.RefreshTokenTTL,
		RememberMeTTL: cfg.JWT.RememberMeRefreshTTL,
		TOTPPeriod:    cfg.TwoFactor.TOTPPeriod,
		TOTPSkew:      cfg.TwoFactor.TOTPSkew,
	}, log)

	app.sweeper = usecase.NewExpirySweeper(rotator, sessions, otp, twoFactorCodes, metrics, usecase.SweeperSettings{
		Interval:  cfg.Sweeper.Interval,
		BatchSize: cfg.Sweeper.BatchSize,
	}, log)

	app.engine = routes.Register(routes.Dependencies{
		Config:         cfg,
		Logger:         log,
		Auth:           authService,
		RateLimiter:    middleware.NewRateLimiter(limiter, metrics, log),
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Database:       app.pool,
		Cache:          cache,
	})

	ok = true
	return app, nil
}

func rule(settings config.RateLimitRule) usecase.RateLimitRule {
	return usecase.RateLimitRule{Limit: settings.Limit, Window: settings.Window}
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	var sweeperWG sync.WaitGroup
	sweeperWG.Add(1)
	go func() {
		defer sweeperWG.Done()
		a.sweeper.Run(sweepCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrCh:
	}

	timeout := a.cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown server: %w", err)
	}

	stopSweeper()
	sweeperWG.Wait()
	a.close(shutdownCtx)

	return runErr
}

// close releases resources in reverse order of creation. The audit queue drains before the
// database pool and the producer it writes to are closed.
func (a *Application) close(ctx context.Context) {
	if a.audit != nil {
		a.audit.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("kafka producer close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
