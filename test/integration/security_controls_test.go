package integration

import (
	"net/http"
	"testing"

	"github.com/curalink/signchain/model"
)

func TestSecurity_RequestsWithoutTokenRejected(t *testing.T) {
	h := NewTestHarness(t)

	paths := []string{
		"/api/workflows",
		"/api/instances",
	}
	for _, path := range paths {
		resp := h.GET(path, "")
		h.AssertErrorCode(t, resp, http.StatusUnauthorized, model.ErrUnauthorized)
	}
}

func TestSecurity_ExpiredTokenRejected(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateExpiredToken(NurseClaims())

	resp := h.GET("/api/workflows", token)
	h.AssertErrorCode(t, resp, http.StatusUnauthorized, model.ErrUnauthorized)
}

func TestSecurity_MalformedTokenRejected(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/api/workflows", "not.a.jwt")
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestSecurity_UnknownRoleRejected(t *testing.T) {
	h := NewTestHarness(t)
	claims := NurseClaims()
	claims.Role = "janitor"
	token := h.GenerateToken(claims)

	resp := h.GET("/api/workflows", token)
	h.AssertErrorCode(t, resp, http.StatusForbidden, model.ErrForbidden)
}

func TestSecurity_MissingTenantRejected(t *testing.T) {
	h := NewTestHarness(t)
	claims := NurseClaims()
	claims.FacilityID = ""
	token := h.GenerateToken(claims)

	resp := h.GET("/api/workflows", token)
	h.AssertErrorCode(t, resp, http.StatusForbidden, model.ErrForbidden)
}

func TestSecurity_TenantIsolation(t *testing.T) {
	h := NewTestHarness(t)
	facilityA := h.GenerateToken(NurseClaims())
	facilityB := h.GenerateToken(OtherFacilityNurseClaims())

	inst := h.CreateInstance(t, facilityA, "admission_review", "doc-iso-1")

	// Another facility cannot see, list, or mutate it.
	resp := h.GET("/api/instances/"+inst.ID, facilityB)
	h.AssertStatus(t, resp, http.StatusNotFound)

	resp = h.POST("/api/instances/"+inst.ID+"/steps/nurse_review/complete",
		map[string]any{"signature_data": "cross-tenant"}, facilityB)
	h.AssertStatus(t, resp, http.StatusNotFound)

	var body struct {
		TotalCount int `json:"total_count"`
	}
	h.AssertJSON(t, h.GET("/api/instances", facilityB), http.StatusOK, &body)
	if body.TotalCount != 0 {
		t.Errorf("facility-b sees %d instances, want 0", body.TotalCount)
	}
}

func TestSecurity_HeadersPresent(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(NurseClaims())

	resp := h.GET("/api/workflows", token)
	defer resp.Body.Close()

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for k, v := range expected {
		if got := resp.Header.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestSecurity_CorrelationIDPropagation(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(NurseClaims())

	resp := h.doRequest("GET", "/api/workflows", nil, token,
		map[string]string{"X-Correlation-Id": "corr-test-1"})
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Correlation-Id"); got != "corr-test-1" {
		t.Errorf("X-Correlation-Id = %q, want corr-test-1", got)
	}

	// Generated when the client does not supply one.
	resp2 := h.GET("/api/workflows", token)
	defer resp2.Body.Close()
	if resp2.Header.Get("X-Correlation-Id") == "" {
		t.Error("expected a generated correlation ID")
	}
}

func TestSecurity_CORSPreflight(t *testing.T) {
	h := NewTestHarness(t)

	req, err := http.NewRequest("OPTIONS", h.BaseURL()+"/api/instances", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
