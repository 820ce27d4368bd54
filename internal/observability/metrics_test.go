package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"signchain_http_requests_total",
		"signchain_http_request_duration_seconds",
		"signchain_http_request_size_bytes",
		"signchain_http_response_size_bytes",
		"signchain_instance_creates_total",
		"signchain_instance_completions_total",
		"signchain_instances_active",
		"signchain_cancellations_total",
		"signchain_escalations_total",
		"signchain_step_completions_total",
		"signchain_precondition_failures_total",
		"signchain_step_completion_duration_seconds",
		"signchain_signing_requests_total",
		"signchain_signing_duration_seconds",
		"signchain_signing_circuit_breaker_state",
		"signchain_catalog_workflows_loaded",
		"signchain_catalog_reload_total",
		"signchain_idempotency_hits_total",
		"signchain_idempotency_misses_total",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordInstanceCreate("wf-1")
	m.RecordInstanceCompletion("wf-1", "completed")
	m.RecordCancellation("wf-1")
	m.RecordEscalation("wf-1", "timeout")
	m.RecordStepCompletion("wf-1", "step-1", time.Millisecond)
	m.RecordPreconditionFailure("STEP_NOT_READY")
	m.RecordSigningRequest("success", time.Millisecond)
	m.SetSigningBreakerState(0)
	m.SetCatalogWorkflowsLoaded(3)
	m.RecordCatalogReload("success")
	m.RecordIdempotencyHit()
	m.RecordIdempotencyMiss()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/api/instances/{instanceId}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/api/instances/{instanceId}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/api/instances/{instanceId}/cancel", 500, 200*time.Millisecond, 512, 256)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/instances/{instanceId}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/instances/{instanceId}/cancel", "500"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordInstanceLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordInstanceCreate("admission_review")
	active := testutil.ToFloat64(m.InstancesActive.WithLabelValues("admission_review"))
	if active != 1 {
		t.Errorf("active instances = %v, want 1", active)
	}

	m.RecordInstanceCompletion("admission_review", "completed")
	active = testutil.ToFloat64(m.InstancesActive.WithLabelValues("admission_review"))
	if active != 0 {
		t.Errorf("active instances after completion = %v, want 0", active)
	}

	completions := testutil.ToFloat64(m.InstanceCompletionsTotal.WithLabelValues("admission_review", "completed"))
	if completions != 1 {
		t.Errorf("completions = %v, want 1", completions)
	}
}

func TestRecordCancellation(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCancellation("admission_review")
	m.RecordCancellation("admission_review")

	val := testutil.ToFloat64(m.CancellationsTotal.WithLabelValues("admission_review"))
	if val != 2 {
		t.Errorf("cancellations = %v, want 2", val)
	}
}

func TestRecordEscalation_byTrigger(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordEscalation("admission_review", "timeout")
	m.RecordEscalation("admission_review", "manual")
	m.RecordEscalation("admission_review", "timeout")

	timeouts := testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("admission_review", "timeout"))
	if timeouts != 2 {
		t.Errorf("timeout escalations = %v, want 2", timeouts)
	}
	manual := testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("admission_review", "manual"))
	if manual != 1 {
		t.Errorf("manual escalations = %v, want 1", manual)
	}
}

func TestRecordStepCompletion(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordStepCompletion("admission_review", "nurse_review", 500*time.Millisecond)

	val := testutil.ToFloat64(m.StepCompletionsTotal.WithLabelValues("admission_review", "nurse_review"))
	if val != 1 {
		t.Errorf("step completions = %v, want 1", val)
	}
	count := testutil.CollectAndCount(m.StepCompletionLatency)
	if count == 0 {
		t.Error("expected step completion duration histogram to have observations")
	}
}

func TestRecordPreconditionFailure(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordPreconditionFailure("PERMISSION_DENIED")
	m.RecordPreconditionFailure("PERMISSION_DENIED")
	m.RecordPreconditionFailure("STEP_NOT_READY")

	denied := testutil.ToFloat64(m.PreconditionFailures.WithLabelValues("PERMISSION_DENIED"))
	if denied != 2 {
		t.Errorf("permission failures = %v, want 2", denied)
	}
	notReady := testutil.ToFloat64(m.PreconditionFailures.WithLabelValues("STEP_NOT_READY"))
	if notReady != 1 {
		t.Errorf("not-ready failures = %v, want 1", notReady)
	}
}

func TestRecordSigningRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSigningRequest("success", 100*time.Millisecond)
	m.RecordSigningRequest("failure", 50*time.Millisecond)

	success := testutil.ToFloat64(m.SigningRequestsTotal.WithLabelValues("success"))
	if success != 1 {
		t.Errorf("signing success = %v, want 1", success)
	}
	failure := testutil.ToFloat64(m.SigningRequestsTotal.WithLabelValues("failure"))
	if failure != 1 {
		t.Errorf("signing failure = %v, want 1", failure)
	}
	count := testutil.CollectAndCount(m.SigningDuration)
	if count == 0 {
		t.Error("expected signing duration histogram to have observations")
	}
}

func TestSetSigningBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetSigningBreakerState(0)
	val := testutil.ToFloat64(m.SigningBreakerState)
	if val != 0 {
		t.Errorf("breaker state = %v, want 0 (closed)", val)
	}

	m.SetSigningBreakerState(2)
	val = testutil.ToFloat64(m.SigningBreakerState)
	if val != 2 {
		t.Errorf("breaker state = %v, want 2 (open)", val)
	}
}

func TestSetCatalogWorkflowsLoaded(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetCatalogWorkflowsLoaded(5)
	val := testutil.ToFloat64(m.CatalogWorkflowsLoaded)
	if val != 5 {
		t.Errorf("workflows loaded = %v, want 5", val)
	}

	m.SetCatalogWorkflowsLoaded(10)
	val = testutil.ToFloat64(m.CatalogWorkflowsLoaded)
	if val != 10 {
		t.Errorf("workflows loaded = %v, want 10", val)
	}
}

func TestRecordCatalogReload(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCatalogReload("success")
	m.RecordCatalogReload("failure")

	success := testutil.ToFloat64(m.CatalogReloadTotal.WithLabelValues("success"))
	if success != 1 {
		t.Errorf("reload success = %v, want 1", success)
	}
	failure := testutil.ToFloat64(m.CatalogReloadTotal.WithLabelValues("failure"))
	if failure != 1 {
		t.Errorf("reload failure = %v, want 1", failure)
	}
}

func TestRecordIdempotency(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordIdempotencyHit()
	m.RecordIdempotencyHit()
	m.RecordIdempotencyMiss()

	hits := testutil.ToFloat64(m.IdempotencyHitsTotal)
	if hits != 2 {
		t.Errorf("idempotency hits = %v, want 2", hits)
	}
	misses := testutil.ToFloat64(m.IdempotencyMissesTotal)
	if misses != 1 {
		t.Errorf("idempotency misses = %v, want 1", misses)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/instances/{instanceId}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/instances/inst-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/instances/{instanceId}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/api/instances/{instanceId}/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/instances/inst-1/cancel", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/instances/{instanceId}/cancel", "409"))
	if val != 1 {
		t.Errorf("409 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Use middleware directly without chi router.
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Without chi, should fall back to raw path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(signingDurationBuckets) != 9 {
		t.Errorf("signingDurationBuckets length = %d, want 9", len(signingDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
}
