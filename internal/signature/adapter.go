// Package signature defines the adapter boundary through which the engine
// obtains cryptographic signatures. The engine treats signing as a black
// box: it supplies a payload binding the step to its document and receives
// an opaque, verifiable record. It never fabricates or inspects a proof.
package signature

import (
	"context"
	"encoding/json"
	"time"
)

// Payload binds a signature request to a specific step completion. The
// canonical encoding is what the adapter signs, so two payloads with the
// same fields always produce the same bytes.
type Payload struct {
	InstanceID string    `json:"instance_id"`
	StepID     string    `json:"step_id"`
	DocumentID string    `json:"document_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Canonical returns the canonical JSON encoding of the payload.
func (p Payload) Canonical() ([]byte, error) {
	// Field order in the struct fixes the JSON key order.
	return json.Marshal(p)
}

// Record is the verifiable signature produced by an adapter.
type Record struct {
	SignatureID string    `json:"signature_id"`
	Algorithm   string    `json:"algorithm"`
	Timestamp   time.Time `json:"timestamp"`
}

// Adapter produces a verifiable signature record over a payload. Sign
// blocks until the signing backend answers; implementations must honor
// context cancellation.
type Adapter interface {
	Sign(ctx context.Context, payload Payload) (Record, error)
}
