// Package main is the entry point for the signchain server. It wires all
// dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/curalink/signchain/internal/catalog"
	"github.com/curalink/signchain/internal/config"
	"github.com/curalink/signchain/internal/observability"
	"github.com/curalink/signchain/internal/permission"
	"github.com/curalink/signchain/internal/signature"
	"github.com/curalink/signchain/internal/transport"
	"github.com/curalink/signchain/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "signchain", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load the workflow catalog, validate it, and build the registry.
	loader := catalog.NewLoader()
	configs, err := loader.LoadAll(cfg.Catalog.Directories)
	if err != nil {
		logger.Error("catalog loading failed", zap.Error(err))
		return 1
	}

	validator := catalog.NewValidator()
	verrs := validator.Validate(configs)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("catalog validation error", zap.String("error", ve.Error()))
		}
		logger.Error("catalog validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := catalog.NewRegistry(configs)
	metrics.SetCatalogWorkflowsLoaded(float64(registry.Len()))

	perms, err := buildEvaluator(cfg.Permission)
	if err != nil {
		logger.Error("permission policy initialization failed", zap.Error(err))
		return 1
	}

	store, storeCloser, err := buildInstanceStore(ctx, cfg.Workflow, logger)
	if err != nil {
		logger.Error("instance store initialization failed", zap.Error(err))
		return 1
	}

	signer, err := buildSigner(cfg.Signer, logger)
	if err != nil {
		logger.Error("signer initialization failed", zap.Error(err))
		return 1
	}

	idemStore, idemCloser := buildIdempotencyStore(ctx, cfg.Idempotency, logger)

	engine := workflow.NewEngine(registry, store, signer, perms)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readiness := observability.ReadinessChecks{
		CatalogLoaded: func() bool { return registry.Len() > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.InstanceStore = hc
	}
	if hc, ok := signer.(observability.HealthChecker); ok {
		readiness.SigningBackend = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Engine:       engine,
		Registry:     registry,
		Idempotency:  idemStore,
		Metrics:      metrics,
		Readiness:    readiness,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background escalation monitor.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	monitor := workflow.NewMonitor(engine, cfg.Workflow.EscalationInterval, logger)
	go monitor.Run(bgCtx)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("workflows", registry.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if storeCloser != nil {
		storeCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildEvaluator creates the permission evaluator from the configured
// policy file, or the built-in defaults when none is set.
func buildEvaluator(cfg config.PermissionConfig) (*permission.Evaluator, error) {
	if cfg.PolicyFile != "" {
		return permission.LoadPolicy(cfg.PolicyFile)
	}
	return permission.NewEvaluator(permission.DefaultPolicy())
}

// buildInstanceStore creates the instance store based on config.
func buildInstanceStore(ctx context.Context, cfg config.WorkflowConfig, logger *zap.Logger) (workflow.InstanceStore, func(), error) {
	switch cfg.Store.Driver {
	case "memory", "":
		logger.Info("using in-memory instance store")
		return workflow.NewMemoryInstanceStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.Store.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("instance store: %s environment variable not set", cfg.Store.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("instance store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Store.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.Store.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.Store.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("instance store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("instance store: ping: %w", err)
		}

		return workflow.NewPgInstanceStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported instance store driver: %q", cfg.Store.Driver)
	}
}

// buildSigner creates the signature adapter based on config.
func buildSigner(cfg config.SignerConfig, logger *zap.Logger) (signature.Adapter, error) {
	switch cfg.Driver {
	case "local", "":
		key := os.Getenv(cfg.KeyEnv)
		if key == "" {
			return nil, fmt.Errorf("signer: %s environment variable not set", cfg.KeyEnv)
		}
		logger.Info("using local signing adapter")
		return signature.NewLocalAdapter([]byte(key))
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("signer: base_url is required for the http driver")
		}
		logger.Info("using remote signing service", zap.String("base_url", cfg.BaseURL))
		return signature.NewHTTPAdapter(signature.HTTPAdapterConfig{
			BaseURL:          cfg.BaseURL,
			Timeout:          cfg.Timeout,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
			Cooldown:         cfg.CircuitBreaker.Cooldown,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported signer driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns nil when idempotent completion is disabled.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (workflow.IdempotencyStore, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store")
			return workflow.NewMemoryIdempotencyStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, continuing anyway", zap.Error(err))
		}
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return workflow.NewRedisIdempotencyStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return workflow.NewMemoryIdempotencyStore(), nil
	}
}
