// Package integration provides a reusable test harness for end-to-end
// testing of the signchain server. It starts a full HTTP server with the
// real middleware chain, an in-memory instance store, a test JWT issuer,
// and optionally a mock remote signing service.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/curalink/signchain/internal/catalog"
	"github.com/curalink/signchain/internal/config"
	"github.com/curalink/signchain/internal/permission"
	"github.com/curalink/signchain/internal/signature"
	"github.com/curalink/signchain/internal/transport"
	"github.com/curalink/signchain/internal/workflow"
	"github.com/curalink/signchain/model"
)

// TestHarness encapsulates a fully wired signchain instance for
// integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry    *catalog.Registry
	Store       *workflow.MemoryInstanceStore
	Engine      *workflow.Engine
	Idempotency *workflow.MemoryIdempotencyStore

	// SigningService is non-nil when the harness was built with
	// WithRemoteSigner.
	SigningService *MockSigningService

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	workflowDirs       []string
	policyFile         string
	idempotencyEnabled bool
	handlerTimeout     time.Duration
	remoteSigner       bool
	breaker            config.CircuitBreakerConfig
}

// WithWorkflowDirs sets the catalog directories to load. Relative paths
// are resolved from the testdata directory.
func WithWorkflowDirs(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.workflowDirs = dirs
	}
}

// WithPolicyFile sets the role capability policy YAML file.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithIdempotency enables idempotent step completion with an in-memory
// store.
func WithIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotencyEnabled = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithRemoteSigner routes signing through a mock HTTP signing service
// behind a circuit breaker with the given settings.
func WithRemoteSigner(breaker config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.remoteSigner = true
		c.breaker = breaker
	}
}

// NewTestHarness creates and starts a full signchain test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	td := testdataDir()
	if len(hc.workflowDirs) == 0 {
		hc.workflowDirs = []string{filepath.Join(td, "workflows")}
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(td, "policies.yaml")
	}
	for i, dir := range hc.workflowDirs {
		if !filepath.IsAbs(dir) {
			hc.workflowDirs[i] = filepath.Join(td, dir)
		}
	}

	h := &TestHarness{t: t}

	// Load and validate the workflow catalog.
	loader := catalog.NewLoader()
	configs, err := loader.LoadAll(hc.workflowDirs)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	validator := catalog.NewValidator()
	if verrs := validator.Validate(configs); len(verrs) > 0 {
		t.Fatalf("catalog validation: %v", verrs)
	}
	h.Registry = catalog.NewRegistry(configs)

	// Permission policy.
	perms, err := permission.LoadPolicy(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	// Stores.
	h.Store = workflow.NewMemoryInstanceStore()
	h.Idempotency = workflow.NewMemoryIdempotencyStore()

	// Signer: local HMAC by default, mock remote service on request.
	var signer signature.Adapter
	if hc.remoteSigner {
		h.SigningService = newMockSigningService(t)
		signer = signature.NewHTTPAdapter(signature.HTTPAdapterConfig{
			BaseURL:          h.SigningService.URL(),
			Timeout:          5 * time.Second,
			FailureThreshold: hc.breaker.FailureThreshold,
			SuccessThreshold: hc.breaker.SuccessThreshold,
			Cooldown:         hc.breaker.Cooldown,
		})
	} else {
		signer, err = signature.NewLocalAdapter([]byte("integration-test-signing-key-1234"))
		if err != nil {
			t.Fatalf("local adapter: %v", err)
		}
	}

	h.Engine = workflow.NewEngine(h.Registry, h.Store, signer, perms)

	// JWT issuer and server config.
	h.issuer = newTokenIssuer(t)
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Idempotency.Enabled = hc.idempotencyEnabled
	h.cfg.Observability.Metrics.Enabled = false

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, nil)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Engine:       h.Engine,
		Registry:     h.Registry,
		Idempotency:  h.Idempotency,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional
// headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the expected status and the error envelope code.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error == nil {
		t.Fatal("expected an error envelope")
	}
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q", body.Error.Code, code)
	}
}

// --- domain helpers ---

// CreateInstance starts a workflow instance over HTTP and returns it.
func (h *TestHarness) CreateInstance(t *testing.T, token, workflowID, documentID string) model.WorkflowInstance {
	t.Helper()
	resp := h.POST("/api/workflows/"+workflowID+"/instances", map[string]any{
		"document_id": documentID,
		"metadata":    map[string]any{"form_type": "test"},
	}, token)

	var inst model.WorkflowInstance
	h.AssertJSON(t, resp, http.StatusCreated, &inst)
	if inst.ID == "" {
		t.Fatal("expected instance ID in create response")
	}
	return inst
}

// CompleteStep completes a step over HTTP and returns the updated
// instance. Fails the test on any non-200 response.
func (h *TestHarness) CompleteStep(t *testing.T, token, instanceID, stepID string, body map[string]any) model.WorkflowInstance {
	t.Helper()
	if body == nil {
		body = map[string]any{"signature_data": "data:image/png;base64,dGVzdA=="}
	}
	resp := h.POST("/api/instances/"+instanceID+"/steps/"+stepID+"/complete", body, token)

	var inst model.WorkflowInstance
	h.AssertJSON(t, resp, http.StatusOK, &inst)
	return inst
}

// --- default test claims ---

// NurseClaims returns TestClaims for a nurse at facility-a.
func NurseClaims() TestClaims {
	return TestClaims{
		SubjectID:  "user-nurse",
		FacilityID: "facility-a",
		Name:       "Nina Okafor",
		Role:       "nurse",
	}
}

// PhysicianClaims returns TestClaims for a physician at facility-a.
func PhysicianClaims() TestClaims {
	return TestClaims{
		SubjectID:  "user-physician",
		FacilityID: "facility-a",
		Name:       "Pat Reyes",
		Role:       "physician",
	}
}

// DieticianClaims returns TestClaims for a dietician at facility-a.
func DieticianClaims() TestClaims {
	return TestClaims{
		SubjectID:  "user-dietician",
		FacilityID: "facility-a",
		Name:       "Dana Huang",
		Role:       "dietician",
	}
}

// PharmacistClaims returns TestClaims for a pharmacist at facility-a.
func PharmacistClaims() TestClaims {
	return TestClaims{
		SubjectID:  "user-pharmacist",
		FacilityID: "facility-a",
		Name:       "Priya Nair",
		Role:       "pharmacist",
	}
}

// SupervisorClaims returns TestClaims for a supervisor at facility-a.
func SupervisorClaims() TestClaims {
	return TestClaims{
		SubjectID:  "user-supervisor",
		FacilityID: "facility-a",
		Name:       "Sam Whitfield",
		Role:       "supervisor",
	}
}

// OtherFacilityNurseClaims returns TestClaims for a nurse at facility-b,
// for tenant isolation tests.
func OtherFacilityNurseClaims() TestClaims {
	return TestClaims{
		SubjectID:  "user-nurse-b",
		FacilityID: "facility-b",
		Name:       "Noor Haddad",
		Role:       "nurse",
	}
}

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}
