package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockSigningService is a scriptable stand-in for the remote signing
// service. It serves the POST /sign endpoint and can be told to fail a
// number of upcoming requests, which lets tests drive the circuit breaker
// through its states.
type MockSigningService struct {
	mu        sync.Mutex
	server    *httptest.Server
	calls     int
	failNext  int
	failAll   bool
	latency   time.Duration
	lastBody  []byte
}

// newMockSigningService starts a mock signing service. It is shut down
// when the test completes.
func newMockSigningService(t *testing.T) *MockSigningService {
	t.Helper()

	ms := &MockSigningService{}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handle))
	t.Cleanup(ms.server.Close)
	return ms
}

func (ms *MockSigningService) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/sign" {
		http.NotFound(w, r)
		return
	}

	ms.mu.Lock()
	ms.calls++
	call := ms.calls
	fail := ms.failAll
	if ms.failNext > 0 {
		ms.failNext--
		fail = true
	}
	latency := ms.latency
	body, _ := io.ReadAll(r.Body)
	ms.lastBody = body
	ms.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"error": "signing backend unavailable"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"signature_id": fmt.Sprintf("mock-sig-%d", call),
		"algorithm":    "mock-rsa-2048",
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// URL returns the base URL of the mock service.
func (ms *MockSigningService) URL() string {
	return ms.server.URL
}

// FailNext makes the next n signing requests return HTTP 500.
func (ms *MockSigningService) FailNext(n int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failNext = n
}

// FailAll toggles failure of every signing request.
func (ms *MockSigningService) FailAll(fail bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failAll = fail
}

// SetLatency delays every signing response by d.
func (ms *MockSigningService) SetLatency(d time.Duration) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.latency = d
}

// LastPayload returns the body of the most recent signing request.
func (ms *MockSigningService) LastPayload() []byte {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastBody
}

// CallCount returns the number of signing requests received so far.
func (ms *MockSigningService) CallCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.calls
}
