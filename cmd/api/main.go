package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/batimat/api/internal/di"
	"github.com/batimat/api/internal/handlers"
	"github.com/batimat/api/internal/platform/auth"
	"github.com/batimat/api/internal/platform/config"
	"github.com/batimat/api/internal/platform/idempotency"
	"github.com/batimat/api/internal/platform/observability"
	"github.com/batimat/api/internal/platform/ratelimit"
	"github.com/batimat/api/internal/platform/requestctx"
	"github.com/batimat/api/internal/platform/secrets"
	"github.com/batimat/api/internal/services"
)

const rateLimitSweepInterval = time.Minute

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	resolver, err := secrets.NewResolver(ctx, secretsConfigFromEnv(envValues),
		secrets.WithLogger(logger.Named("secrets")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	verifier, err := auth.NewSessionVerifier([]byte(cfg.Auth.SessionSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
		auth.WithLeeway(cfg.Auth.Leeway),
	)
	if err != nil {
		logger.Fatal("failed to initialise session verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier)

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	limiter := ratelimit.New(cfg.RateLimits.PerMinute, cfg.RateLimits.Burst,
		ratelimit.WithTrustedProxy(cfg.Security.TrustProxyHeaders),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	backgroundWG.Add(2)
	go func() {
		defer backgroundWG.Done()
		idempotency.RunCleanup(backgroundCtx, container.Idempotency, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()
	go func() {
		defer backgroundWG.Done()
		limiter.Run(backgroundCtx, rateLimitSweepInterval)
	}()

	svc := container.Services
	quoteHandlers := handlers.NewQuoteHandlers(svc.Quote)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout, idempotencyMiddleware)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Cancellations)
	creditHandlers := handlers.NewCreditHandlers(authenticator, svc.Credit)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(nil),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		middleware.RequestSize(cfg.Server.MaxBodyBytes),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithAPIMiddlewares(limiter.Middleware),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithQuoteRoutes(quoteHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithMeRoutes(creditHandlers.MeRoutes),
		handlers.WithCustomerRoutes(creditHandlers.CustomerRoutes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("batimat api listening",
			zap.String("database", cfg.Database.Driver),
			zap.String("idempotency", cfg.Idempotency.Backend),
			zap.String("events", cfg.Events.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func secretsConfigFromEnv(env map[string]string) config.SecretsConfig {
	cfg := config.SecretsConfig{
		ProjectID:    strings.TrimSpace(env["API_SECRETS_PROJECT_ID"]),
		FallbackFile: strings.TrimSpace(env["API_SECRETS_FALLBACK_FILE"]),
		CacheTTL:     5 * time.Minute,
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = strings.TrimSpace(env["API_FIRESTORE_PROJECT_ID"])
	}
	if raw := strings.TrimSpace(env["API_SECRETS_CACHE_TTL"]); raw != "" {
		if ttl, err := time.ParseDuration(raw); err == nil {
			cfg.CacheTTL = ttl
		}
	}
	if cfg.FallbackFile == "" {
		cfg.FallbackFile = ".secrets.local"
	}
	return cfg
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{"Auth.SessionSecret"}
	if strings.EqualFold(strings.TrimSpace(env["API_DATABASE_DRIVER"]), "postgres") {
		required = append(required, "Database.URL")
	}
	return required
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}
