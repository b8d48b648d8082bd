package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mugisham37/authcore/internal/audit"
	"github.com/mugisham37/authcore/internal/config"
	"github.com/mugisham37/authcore/internal/delivery"
	"github.com/mugisham37/authcore/internal/event"
	handler "github.com/mugisham37/authcore/internal/handler/http"
	"github.com/mugisham37/authcore/internal/lockout"
	"github.com/mugisham37/authcore/internal/mfa"
	"github.com/mugisham37/authcore/internal/password"
	"github.com/mugisham37/authcore/internal/rbac"
	"github.com/mugisham37/authcore/internal/repository"
	"github.com/mugisham37/authcore/internal/repository/memory"
	pgrepo "github.com/mugisham37/authcore/internal/repository/postgres"
	redisrepo "github.com/mugisham37/authcore/internal/repository/redis"
	"github.com/mugisham37/authcore/internal/service"
	"github.com/mugisham37/authcore/internal/session"
	"github.com/mugisham37/authcore/internal/token"
	"github.com/mugisham37/authcore/migrations"
	"github.com/mugisham37/authcore/pkg/database"
	"github.com/mugisham37/authcore/pkg/health"
	"github.com/mugisham37/authcore/pkg/httpclient"
	pkgkafka "github.com/mugisham37/authcore/pkg/kafka"
	"github.com/mugisham37/authcore/pkg/middleware"
	"github.com/mugisham37/authcore/pkg/tracing"
)

// maintenanceInterval is how often expired sessions, tokens, challenges,
// and stale audit events are swept.
const maintenanceInterval = time.Hour

// App wires together all dependencies and runs the authentication service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	debugServer    *http.Server
	tracerShutdown func(context.Context) error

	// Retained for the background maintenance sweep.
	auditLogger    *audit.Logger
	mfaEngine      *mfa.Engine
	tokenRepo      repository.RefreshTokenRepository
	sessionManager *session.Manager
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "auth",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL
	pool, err := database.NewPostgresPool(ctx, &pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "auth")
	database.SetSlowQueryLogging(200*time.Millisecond, logger)

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Redis (sessions and MFA challenges).
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis",
		slog.String("host", cfg.RedisHost),
		slog.Int("port", cfg.RedisPort),
	)

	// Initialize Kafka producer for security events (optional).
	var (
		producer      *pkgkafka.Producer
		eventProducer *event.Producer
		publisher     audit.Publisher
	)
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		eventProducer = event.NewProducer(producer, logger)
		publisher = eventProducer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Stores.
	userRepo := pgrepo.NewUserRepository(pool)
	tokenRepo := pgrepo.NewRefreshTokenRepository(pool)
	auditRepo := pgrepo.NewAuditEventRepository(pool)
	sessionRepo := redisrepo.NewSessionRepository(redisClient)
	challengeRepo := redisrepo.NewChallengeRepository(redisClient)

	// Failed-attempt tracking is windowed (an hour for anomalies, a day for
	// progressive penalties), so it lives in process memory.
	attemptRepo := memory.NewLoginAttemptRepository()
	lockoutRepo := memory.NewLockoutRepository()

	// Core engines.
	hasher := password.NewHasher(cfg.BcryptCost)
	policy := password.DefaultPolicy()

	tokenManager := token.NewManager(token.Config{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.JWTAccessExpiry,
		RefreshTTL: cfg.JWTRefreshExpiry,
	}, tokenRepo, logger)

	sessionCfg := session.DefaultConfig()
	sessionCfg.SessionTimeout = cfg.SessionTimeout
	sessionCfg.IdleTimeout = cfg.SessionIdleTimeout
	sessionCfg.MaxConcurrentSessions = cfg.MaxConcurrentSessions
	sessionManager := session.NewManager(sessionCfg, sessionRepo, service.NewUserTrustChecker(userRepo), logger)

	lockoutCfg := lockout.DefaultConfig()
	lockoutCfg.MaxFailedAttempts = cfg.MaxFailedAttempts
	lockoutCfg.CaptchaThreshold = cfg.CaptchaThreshold
	lockoutCfg.BaseLockDuration = cfg.LockoutBase
	lockoutCfg.MaxLockDuration = cfg.LockoutMax
	detector := lockout.NewDetector(lockoutCfg, attemptRepo, lockoutRepo, logger)

	mfaCfg := mfa.DefaultConfig()
	mfaCfg.Issuer = cfg.JWTIssuer
	mfaEngine := mfa.NewEngine(mfaCfg, challengeRepo, userRepo,
		newSMSSender(cfg, logger), newEmailSender(cfg, logger), hasher, logger)

	registry := rbac.NewRegistryWithDefaults()
	auditLogger := audit.NewLogger(auditRepo, publisher, logger)

	authService := service.NewAuthService(userRepo, hasher, policy, tokenManager,
		sessionManager, detector, mfaEngine, registry, auditLogger, logger)
	if eventProducer != nil {
		authService = authService.WithEvents(eventProducer)
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	// HTTP router.
	router := handler.NewRouter(authService, mfaEngine, sessionManager, tokenManager,
		auditLogger, userRepo, healthHandler, logger, handler.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Profiling endpoints live on a separate listener so they are never
	// reachable through the public port.
	var debugServer *http.Server
	if cfg.PprofEnabled {
		debugRouter := chi.NewRouter()
		middleware.RegisterPprof(debugRouter, cfg.PprofAllowedCIDRs, logger)
		debugServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.PprofPort),
			Handler:           debugRouter,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		producer:       producer,
		httpServer:     httpServer,
		debugServer:    debugServer,
		tracerShutdown: tracerShutdown,
		auditLogger:    auditLogger,
		mfaEngine:      mfaEngine,
		tokenRepo:      tokenRepo,
		sessionManager: sessionManager,
	}, nil
}

// newSMSSender returns the configured SMS gateway sender, or a mock that logs
// deliveries when no gateway is configured.
func newSMSSender(cfg *config.Config, logger *slog.Logger) delivery.Sender {
	if cfg.SMSGatewayURL == "" {
		return delivery.NewMockSender("sms", logger)
	}
	client := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("sms-gateway"),
		logger,
	)
	return delivery.NewSMSSender(client, delivery.SMSGatewayConfig{
		URL:    cfg.SMSGatewayURL,
		APIKey: cfg.SMSGatewayAPIKey,
		From:   cfg.SMSGatewayFrom,
	})
}

// newEmailSender returns the configured SMTP sender, or a mock that logs
// deliveries when no SMTP host is configured.
func newEmailSender(cfg *config.Config, logger *slog.Logger) delivery.Sender {
	if cfg.SMTPHost == "" {
		return delivery.NewMockSender("email", logger)
	}
	sender, err := delivery.NewSMTPSender(delivery.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		logger.Error("smtp sender init failed, falling back to mock",
			slog.String("error", err.Error()),
		)
		return delivery.NewMockSender("email", logger)
	}
	return sender
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.debugServer != nil {
		go func() {
			a.logger.Info("starting pprof listener",
				slog.String("addr", a.debugServer.Addr),
			)
			if err := a.debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("pprof listener failed", slog.String("error", err.Error()))
			}
		}()
	}

	go a.runMaintenance(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// runMaintenance periodically sweeps expired refresh tokens, sessions, and
// MFA challenges, and prunes audit events past the retention window.
func (a *App) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		now := time.Now().UTC()

		if n, err := a.tokenRepo.DeleteExpired(sweepCtx, now); err != nil {
			a.logger.Warn("token sweep failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("expired refresh tokens removed", slog.Int("count", n))
		}
		if n, err := a.sessionManager.CleanupExpired(sweepCtx); err != nil {
			a.logger.Warn("session sweep failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("expired sessions removed", slog.Int("count", n))
		}
		if n, err := a.mfaEngine.CleanupExpired(sweepCtx); err != nil {
			a.logger.Warn("challenge sweep failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("expired challenges marked", slog.Int("count", n))
		}
		if n, err := a.auditLogger.Prune(sweepCtx, a.cfg.AuditRetention); err != nil {
			a.logger.Warn("audit prune failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("audit events pruned", slog.Int("count", n))
		}

		cancel()
	}
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if a.debugServer != nil {
		if err := a.debugServer.Shutdown(httpCtx); err != nil {
			a.logger.Error("pprof listener shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka producer.
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close Redis and PostgreSQL.
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
