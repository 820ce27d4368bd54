package signature

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPAdapterConfig describes the remote signing service connection.
type HTTPAdapterConfig struct {
	BaseURL          string
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// HTTPAdapter requests signatures from a remote signing service over
// HTTP, guarded by a circuit breaker. The service receives the canonical
// payload and returns the signature record.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
	breaker *CircuitBreaker
}

// NewHTTPAdapter creates an adapter for the configured signing service.
func NewHTTPAdapter(cfg HTTPAdapterConfig) *HTTPAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAdapter{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.Cooldown),
	}
}

// signResponse is the wire shape returned by the signing service.
type signResponse struct {
	SignatureID string    `json:"signature_id"`
	Algorithm   string    `json:"algorithm"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sign POSTs the canonical payload to the signing service and returns the
// resulting record.
func (a *HTTPAdapter) Sign(ctx context.Context, payload Payload) (Record, error) {
	if err := a.breaker.Allow(); err != nil {
		return Record{}, err
	}

	canonical, err := payload.Canonical()
	if err != nil {
		return Record{}, fmt.Errorf("signature: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/sign", bytes.NewReader(canonical))
	if err != nil {
		return Record{}, fmt.Errorf("signature: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.breaker.RecordFailure()
		return Record{}, fmt.Errorf("signature: signing service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		a.breaker.RecordFailure()
		return Record{}, fmt.Errorf("signature: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		a.breaker.RecordFailure()
		return Record{}, fmt.Errorf("signature: signing service returned status %d", resp.StatusCode)
	}

	var sr signResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		a.breaker.RecordFailure()
		return Record{}, fmt.Errorf("signature: decode response: %w", err)
	}
	if sr.SignatureID == "" {
		a.breaker.RecordFailure()
		return Record{}, fmt.Errorf("signature: signing service returned an empty signature id")
	}

	a.breaker.RecordSuccess()
	ts := sr.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Record{
		SignatureID: sr.SignatureID,
		Algorithm:   sr.Algorithm,
		Timestamp:   ts,
	}, nil
}

// BreakerState exposes the breaker state for readiness reporting.
func (a *HTTPAdapter) BreakerState() BreakerState {
	return a.breaker.State()
}

// HealthCheck reports the signing service as unhealthy while the circuit
// breaker is open.
func (a *HTTPAdapter) HealthCheck(_ context.Context) error {
	if a.breaker.State() == BreakerOpen {
		return fmt.Errorf("signing service circuit breaker is open")
	}
	return nil
}
