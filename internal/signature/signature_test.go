package signature

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testPayload() Payload {
	return Payload{
		InstanceID: "inst-1",
		StepID:     "nurse_review",
		DocumentID: "doc-42",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPayload_Canonical_deterministic(t *testing.T) {
	p := testPayload()
	a, err := p.Canonical()
	if err != nil {
		t.Fatalf("Canonical error: %v", err)
	}
	b, _ := p.Canonical()
	if string(a) != string(b) {
		t.Error("canonical encoding should be deterministic")
	}

	var decoded map[string]any
	if err := json.Unmarshal(a, &decoded); err != nil {
		t.Fatalf("canonical encoding is not valid JSON: %v", err)
	}
	for _, key := range []string{"instance_id", "step_id", "document_id", "timestamp"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("canonical payload missing %q", key)
		}
	}
}

func TestLocalAdapter_Sign(t *testing.T) {
	a, err := NewLocalAdapter([]byte("dev-key"))
	if err != nil {
		t.Fatalf("NewLocalAdapter: %v", err)
	}

	rec, err := a.Sign(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if rec.SignatureID == "" {
		t.Error("expected non-empty signature id")
	}
	if rec.Algorithm != localAlgorithm {
		t.Errorf("Algorithm = %q", rec.Algorithm)
	}

	// Same payload, same key → same digest.
	rec2, _ := a.Sign(context.Background(), testPayload())
	if rec2.SignatureID != rec.SignatureID {
		t.Error("same payload should produce the same signature id")
	}

	// Different payload → different digest.
	other := testPayload()
	other.StepID = "physician_approval"
	rec3, _ := a.Sign(context.Background(), other)
	if rec3.SignatureID == rec.SignatureID {
		t.Error("different payloads should produce different signature ids")
	}
}

func TestLocalAdapter_emptyKey(t *testing.T) {
	if _, err := NewLocalAdapter(nil); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestLocalAdapter_cancelledContext(t *testing.T) {
	a, _ := NewLocalAdapter([]byte("dev-key"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Sign(ctx, testPayload()); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestHTTPAdapter_Sign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sign" {
			t.Errorf("path = %q, want /sign", r.URL.Path)
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if p.InstanceID != "inst-1" {
			t.Errorf("payload InstanceID = %q", p.InstanceID)
		}
		json.NewEncoder(w).Encode(signResponse{
			SignatureID: "sig-abc",
			Algorithm:   "rsa-pss-sha256",
			Timestamp:   time.Now().UTC(),
		})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: srv.URL})
	rec, err := a.Sign(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if rec.SignatureID != "sig-abc" {
		t.Errorf("SignatureID = %q", rec.SignatureID)
	}
	if rec.Algorithm != "rsa-pss-sha256" {
		t.Errorf("Algorithm = %q", rec.Algorithm)
	}
}

func TestHTTPAdapter_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: srv.URL})
	if _, err := a.Sign(context.Background(), testPayload()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestHTTPAdapter_emptySignatureID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(signResponse{})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: srv.URL})
	if _, err := a.Sign(context.Background(), testPayload()); err == nil {
		t.Error("expected error for empty signature id")
	}
}

func TestHTTPAdapter_breakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{
		BaseURL:          srv.URL,
		FailureThreshold: 2,
		Cooldown:         time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := a.Sign(context.Background(), testPayload()); err == nil {
			t.Fatal("expected failure")
		}
	}
	if a.BreakerState() != BreakerOpen {
		t.Errorf("breaker state = %v, want open", a.BreakerState())
	}

	// Next call is rejected without reaching the server.
	if _, err := a.Sign(context.Background(), testPayload()); err == nil {
		t.Error("expected breaker rejection")
	}
}

func TestCircuitBreaker_halfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow in half-open: %v", err)
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Errorf("state = %v, want closed after probe successes", cb.State())
	}
}

func TestCircuitBreaker_halfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	_ = cb.State() // transitions to half-open

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("state = %v, want open after half-open failure", cb.State())
	}
}
