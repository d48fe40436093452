package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/hussnainartilence/survey-backend/internal/auth"
	"github.com/hussnainartilence/survey-backend/internal/background"
	"github.com/hussnainartilence/survey-backend/internal/config"
	"github.com/hussnainartilence/survey-backend/internal/database"
	"github.com/hussnainartilence/survey-backend/internal/handlers"
	middlewareCustom "github.com/hussnainartilence/survey-backend/internal/middleware"
	"github.com/hussnainartilence/survey-backend/internal/repositories"
	"github.com/hussnainartilence/survey-backend/internal/routes"
	"github.com/hussnainartilence/survey-backend/internal/services"
	"github.com/hussnainartilence/survey-backend/migrations"
	pkgauth "github.com/hussnainartilence/survey-backend/pkg/auth"
	pkghttp "github.com/hussnainartilence/survey-backend/pkg/http"
	pkglogger "github.com/hussnainartilence/survey-backend/pkg/logger"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger, logCloser, err := pkglogger.New(pkglogger.Options{
		Level:       cfg.Server.LogLevel,
		FilePattern: cfg.Server.LogFile,
	})
	if err != nil {
		bootLogger.Error("failed to initialize logger", slog.Any("error", err))
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx := context.Background()

	// Initialize database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := database.Migrate(ctx, db, migrations.FS); err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	repos := repositories.NewRepositoryFactory(db)
	txManager := repositories.NewTransactionManager(db, logger)

	// Initialize token manager and hasher
	tokenManager, err := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.JWTAlgorithm,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	if err != nil {
		logger.Error("failed to initialize token manager", slog.Any("error", err))
		os.Exit(1)
	}

	hasher, err := pkgauth.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashConcurrency)
	if err != nil {
		logger.Error("failed to initialize password hasher", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	// Optional Redis login throttle
	var throttle services.LoginThrottle
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, login throttle fails open", slog.Any("error", err))
		}
		cancel()

		throttle = services.NewRateLimitService(redisClient, services.RateLimitConfig{
			MaxAttempts: cfg.Auth.ThrottleMaxAttempts,
			Window:      cfg.Auth.ThrottleWindow,
		}, logger)
	}

	// Email delivery
	var emailService services.EmailService
	if cfg.Email.Enabled {
		emailService, err = services.NewAWSSESEmailService(ctx,
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Email.VerificationURLBase,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		emailService = services.NewLogEmailService(logger)
	}
	notifier := services.NewNotifier(emailService, cfg.Email.SendTimeout, logger)

	// Initialize services
	sessionService := services.NewSessionService(repos, txManager, tokenManager, hasher, services.SessionConfig{
		MaxFailedLogins: cfg.Auth.MaxFailedLogins,
		Timing:          timingDelay,
		Throttle:        throttle,
	}, logger, auditLogger)
	accessService := services.NewAccessService(repos, tokenManager, logger)
	passwordService := services.NewPasswordService(repos, txManager, tokenManager, hasher, logger, auditLogger)
	accountService := services.NewAccountService(repos, txManager, hasher, notifier, cfg.Email.TokenExpiry, logger, auditLogger)

	// Bootstrap first admin account if configured
	if cfg.Auth.AdminEmail != "" && cfg.Auth.AdminPassword != "" {
		bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		created, err := accountService.BootstrapAdmin(bootCtx, services.RegisterInput{
			Name:     cfg.Auth.AdminName,
			Email:    cfg.Auth.AdminEmail,
			Password: cfg.Auth.AdminPassword,
		})
		cancel()
		if err != nil {
			logger.Error("failed to bootstrap admin account", slog.Any("error", err))
		} else if created {
			logger.Info("admin account created", slog.String("name", cfg.Auth.AdminName))
		}
	}

	policy := auth.DefaultPolicy()
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		Sessions:                handlers.NewSessionHandler(sessionService, ipConfig),
		Users:                   handlers.NewUserHandler(accountService, passwordService, policy),
		Health:                  handlers.NewHealthHandler(db),
		Resolver:                accessService,
		Policy:                  policy,
		SystemKey:               cfg.Auth.SystemAPIKey,
		LoginRateLimitPerMinute: cfg.Auth.LoginRateLimitPerMinute,
		IPConfig:                ipConfig,
		Logger:                  logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(repos.Accounts(), cfg.Email.TokenExpiry, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupManager.Stop()
	cleanupCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Let in-flight verification emails finish
	notifier.Wait()

	logger.Info("server stopped")
}
