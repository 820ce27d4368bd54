package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/curalink/signchain/internal/catalog"
	"github.com/curalink/signchain/internal/config"
	"github.com/curalink/signchain/internal/observability"
	"github.com/curalink/signchain/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Engine       *workflow.Engine
	Registry     *catalog.Registry
	Idempotency  workflow.IdempotencyStore
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes — bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	var idemTTL time.Duration
	var idem workflow.IdempotencyStore
	if deps.Config.Idempotency.Enabled {
		idem = deps.Idempotency
		idemTTL = deps.Config.Idempotency.Store.DefaultTTL
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildActorMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/api/workflows", handleCatalogList(deps.Registry))
		r.Get("/api/workflows/{workflowId}", handleCatalogGet(deps.Registry))
		r.Post("/api/workflows/{workflowId}/instances", handleInstanceCreate(deps.Engine, deps.Metrics))

		r.Get("/api/instances", handleInstanceList(deps.Engine))
		r.Get("/api/instances/{instanceId}", handleInstanceGet(deps.Engine))
		r.Post("/api/instances/{instanceId}/steps/{stepId}/complete",
			handleStepComplete(deps.Engine, idem, idemTTL, deps.Metrics))
		r.Post("/api/instances/{instanceId}/cancel", handleInstanceCancel(deps.Engine, deps.Metrics))
		r.Post("/api/instances/{instanceId}/escalate", handleInstanceEscalate(deps.Engine, deps.Metrics))
		r.Get("/api/instances/{instanceId}/progress", handleInstanceProgress(deps.Engine))
		r.Get("/api/instances/{instanceId}/validation", handleInstanceValidation(deps.Engine))
		r.Get("/api/instances/{instanceId}/audit", handleInstanceAudit(deps.Engine))
	})

	return r
}
