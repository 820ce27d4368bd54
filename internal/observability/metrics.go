package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	signingDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Instance lifecycle metrics
	InstanceCreatesTotal     *prometheus.CounterVec
	InstanceCompletionsTotal *prometheus.CounterVec
	InstancesActive          *prometheus.GaugeVec
	CancellationsTotal       *prometheus.CounterVec
	EscalationsTotal         *prometheus.CounterVec

	// Step metrics
	StepCompletionsTotal  *prometheus.CounterVec
	PreconditionFailures  *prometheus.CounterVec
	StepCompletionLatency *prometheus.HistogramVec

	// Signing backend metrics
	SigningRequestsTotal *prometheus.CounterVec
	SigningDuration      prometheus.Histogram
	SigningBreakerState  prometheus.Gauge

	// Catalog metrics
	CatalogWorkflowsLoaded prometheus.Gauge
	CatalogReloadTotal     *prometheus.CounterVec

	// Idempotency metrics
	IdempotencyHitsTotal   prometheus.Counter
	IdempotencyMissesTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signchain_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signchain_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signchain_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signchain_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Instances
		InstanceCreatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signchain_instance_creates_total",
			Help: "Total number of workflow instances created.",
		}, []string{"workflow_id"}),
		InstanceCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signchain_instance_completions_total",
			Help: "Total number of workflow instances reaching a terminal status.",
		}, []string{"workflow_id", "final_status"}),
		InstancesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signchain_instances_active",
			Help: "Number of non-terminal workflow instances.",
		}, []string{"workflow_id"}),
		CancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signchain_cancellations_total",
			Help: "Total number of instance cancellations.",
		}, []string{"workflow_id"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signchain_escalations_total",
			Help: "Total number of instance escalations.",
		}, []string{"workflow_id", "trigger"}),

		// Steps
		StepCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signchain_step_completions_total",
			Help: "Total number of successful step completions.",
		}, []string{"workflow_id", "step_id"}),
		PreconditionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signchain_precondition_failures_total",
			Help: "Total number of rejected mutation attempts, by error code.",
		}, []string{"code"}),
		StepCompletionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signchain_step_completion_duration_seconds",
			Help:    "End-to-end step completion duration in seconds, including signing.",
			Buckets: signingDurationBuckets,
		}, []string{"workflow_id", "step_id"}),

		// Signing backend
		SigningRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signchain_signing_requests_total",
			Help: "Total number of signature requests to the signing backend.",
		}, []string{"status"}),
		SigningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signchain_signing_duration_seconds",
			Help:    "Signing backend request duration in seconds.",
			Buckets: signingDurationBuckets,
		}),
		SigningBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signchain_signing_circuit_breaker_state",
			Help: "Signing backend circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		// Catalog
		CatalogWorkflowsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signchain_catalog_workflows_loaded",
			Help: "Number of workflow configurations in the catalog.",
		}),
		CatalogReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signchain_catalog_reload_total",
			Help: "Total catalog reloads.",
		}, []string{"status"}),

		// Idempotency
		IdempotencyHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signchain_idempotency_hits_total",
			Help: "Total completion requests answered from the idempotency store.",
		}),
		IdempotencyMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signchain_idempotency_misses_total",
			Help: "Total completion requests not found in the idempotency store.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Instances
		m.InstanceCreatesTotal,
		m.InstanceCompletionsTotal,
		m.InstancesActive,
		m.CancellationsTotal,
		m.EscalationsTotal,
		// Steps
		m.StepCompletionsTotal,
		m.PreconditionFailures,
		m.StepCompletionLatency,
		// Signing
		m.SigningRequestsTotal,
		m.SigningDuration,
		m.SigningBreakerState,
		// Catalog
		m.CatalogWorkflowsLoaded,
		m.CatalogReloadTotal,
		// Idempotency
		m.IdempotencyHitsTotal,
		m.IdempotencyMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordInstanceCreate records an instance creation.
func (m *Metrics) RecordInstanceCreate(workflowID string) {
	m.InstanceCreatesTotal.WithLabelValues(workflowID).Inc()
	m.InstancesActive.WithLabelValues(workflowID).Inc()
}

// RecordInstanceCompletion records an instance reaching a terminal status.
func (m *Metrics) RecordInstanceCompletion(workflowID, finalStatus string) {
	m.InstanceCompletionsTotal.WithLabelValues(workflowID, finalStatus).Inc()
	m.InstancesActive.WithLabelValues(workflowID).Dec()
}

// RecordCancellation records an instance cancellation.
func (m *Metrics) RecordCancellation(workflowID string) {
	m.CancellationsTotal.WithLabelValues(workflowID).Inc()
}

// RecordEscalation records an escalation. Trigger is "manual" or "timeout".
func (m *Metrics) RecordEscalation(workflowID, trigger string) {
	m.EscalationsTotal.WithLabelValues(workflowID, trigger).Inc()
}

// RecordStepCompletion records a successful step completion.
func (m *Metrics) RecordStepCompletion(workflowID, stepID string, duration time.Duration) {
	m.StepCompletionsTotal.WithLabelValues(workflowID, stepID).Inc()
	m.StepCompletionLatency.WithLabelValues(workflowID, stepID).Observe(duration.Seconds())
}

// RecordPreconditionFailure records a rejected mutation attempt.
func (m *Metrics) RecordPreconditionFailure(code string) {
	m.PreconditionFailures.WithLabelValues(code).Inc()
}

// RecordSigningRequest records one signing backend request.
func (m *Metrics) RecordSigningRequest(status string, duration time.Duration) {
	m.SigningRequestsTotal.WithLabelValues(status).Inc()
	m.SigningDuration.Observe(duration.Seconds())
}

// SetSigningBreakerState sets the signing circuit breaker gauge.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetSigningBreakerState(state float64) {
	m.SigningBreakerState.Set(state)
}

// SetCatalogWorkflowsLoaded sets the number of loaded configurations.
func (m *Metrics) SetCatalogWorkflowsLoaded(count float64) {
	m.CatalogWorkflowsLoaded.Set(count)
}

// RecordCatalogReload records a catalog reload.
func (m *Metrics) RecordCatalogReload(status string) {
	m.CatalogReloadTotal.WithLabelValues(status).Inc()
}

// RecordIdempotencyHit records a completion served from the idempotency
// store.
func (m *Metrics) RecordIdempotencyHit() {
	m.IdempotencyHitsTotal.Inc()
}

// RecordIdempotencyMiss records a completion not found in the idempotency
// store.
func (m *Metrics) RecordIdempotencyMiss() {
	m.IdempotencyMissesTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
