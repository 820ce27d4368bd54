package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/curalink/signchain/internal/observability"
	"github.com/curalink/signchain/internal/workflow"
	"github.com/curalink/signchain/model"
)

// witnessBody is the wire shape of an optional witness co-signature.
type witnessBody struct {
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	SignatureData string `json:"signature_data,omitempty"`
}

func handleStepComplete(
	engine *workflow.Engine,
	idem workflow.IdempotencyStore,
	idemTTL time.Duration,
	metrics *observability.Metrics,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		instanceID := chi.URLParam(r, "instanceId")
		stepID := chi.URLParam(r, "stepId")

		var body struct {
			SignatureData string       `json:"signature_data"`
			Witness       *witnessBody `json:"witness,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		var witness *workflow.WitnessInput
		if body.Witness != nil {
			if body.Witness.UserID == "" {
				WriteError(w, r, model.NewBadRequestError("witness user_id is required"))
				return
			}
			role, ok := model.ParseRole(body.Witness.Role)
			if !ok {
				WriteError(w, r, model.NewBadRequestError("unknown witness role"))
				return
			}
			witness = &workflow.WitnessInput{
				UserID:        body.Witness.UserID,
				Name:          body.Witness.Name,
				Role:          role,
				SignatureData: body.Witness.SignatureData,
			}
		}

		// Replay protection: a repeated request with the same idempotency
		// key and identical inputs returns the stored result instead of
		// attempting a second completion.
		idemKey := r.Header.Get("X-Idempotency-Key")
		inputHash := completionInputHash(stepID, body.SignatureData, body.Witness)
		if idem != nil && idemKey != "" {
			storeKey := workflow.FormatIdempotencyKey(instanceID, idemKey)
			cached, found, err := idem.Check(r.Context(), storeKey, inputHash)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			if found {
				if metrics != nil {
					metrics.RecordIdempotencyHit()
				}
				WriteJSON(w, http.StatusOK, cached)
				return
			}
			if metrics != nil {
				metrics.RecordIdempotencyMiss()
			}
		}

		start := time.Now()
		inst, err := engine.CompleteStep(r.Context(), actor, instanceID, stepID, body.SignatureData, witness)
		if err != nil {
			recordFailure(metrics, err)
			WriteError(w, r, err)
			return
		}

		if metrics != nil {
			metrics.RecordStepCompletion(inst.WorkflowID, stepID, time.Since(start))
			if inst.Status == model.InstanceStatusCompleted {
				metrics.RecordInstanceCompletion(inst.WorkflowID, inst.Status)
			}
		}

		if idem != nil && idemKey != "" {
			storeKey := workflow.FormatIdempotencyKey(instanceID, idemKey)
			// Best effort; the completion itself already succeeded.
			_ = idem.Store(r.Context(), storeKey, inputHash, inst, idemTTL)
		}

		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleInstanceCancel(engine *workflow.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		instanceID := chi.URLParam(r, "instanceId")

		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Reason == "" {
			WriteError(w, r, model.NewBadRequestError("reason is required"))
			return
		}

		inst, err := engine.Cancel(r.Context(), actor, instanceID, body.Reason)
		if err != nil {
			recordFailure(metrics, err)
			WriteError(w, r, err)
			return
		}
		if metrics != nil {
			metrics.RecordCancellation(inst.WorkflowID)
			metrics.RecordInstanceCompletion(inst.WorkflowID, inst.Status)
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleInstanceEscalate(engine *workflow.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		instanceID := chi.URLParam(r, "instanceId")

		var body struct {
			StepID string `json:"step_id"`
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.StepID == "" {
			WriteError(w, r, model.NewBadRequestError("step_id is required"))
			return
		}

		inst, err := engine.Escalate(r.Context(), actor, instanceID, body.StepID, body.Reason)
		if err != nil {
			recordFailure(metrics, err)
			WriteError(w, r, err)
			return
		}
		if metrics != nil {
			metrics.RecordEscalation(inst.WorkflowID, "manual")
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

// completionInputHash fingerprints the completion inputs so idempotent
// replays with altered inputs can be rejected.
func completionInputHash(stepID, signatureData string, witness *witnessBody) string {
	h := sha256.New()
	h.Write([]byte(stepID))
	h.Write([]byte{0})
	h.Write([]byte(signatureData))
	if witness != nil {
		h.Write([]byte{0})
		h.Write([]byte(witness.UserID))
		h.Write([]byte{0})
		h.Write([]byte(witness.Role))
		h.Write([]byte{0})
		h.Write([]byte(witness.SignatureData))
	}
	return hex.EncodeToString(h.Sum(nil))
}
