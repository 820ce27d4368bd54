package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/curalink/signchain/internal/observability"
	"github.com/curalink/signchain/internal/workflow"
	"github.com/curalink/signchain/model"
)

func handleInstanceCreate(engine *workflow.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		workflowID := chi.URLParam(r, "workflowId")

		var body struct {
			DocumentID string                 `json:"document_id"`
			Metadata   model.InstanceMetadata `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.DocumentID == "" {
			WriteError(w, r, model.NewBadRequestError("document_id is required"))
			return
		}

		inst, err := engine.CreateInstance(r.Context(), actor, workflowID, body.DocumentID, body.Metadata)
		if err != nil {
			recordFailure(metrics, err)
			WriteError(w, r, err)
			return
		}
		if metrics != nil {
			metrics.RecordInstanceCreate(inst.WorkflowID)
		}
		WriteJSON(w, http.StatusCreated, inst)
	}
}

func handleInstanceGet(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		instanceID := chi.URLParam(r, "instanceId")

		inst, err := engine.GetInstance(r.Context(), actor, instanceID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleInstanceList(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())

		filters := model.InstanceFilters{
			WorkflowID: r.URL.Query().Get("workflow_id"),
			DocumentID: r.URL.Query().Get("document_id"),
			Status:     r.URL.Query().Get("status"),
			Page:       queryInt(r, "page", 1),
			PageSize:   queryInt(r, "page_size", 20),
		}

		summaries, totalCount, err := engine.List(r.Context(), actor, filters)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        summaries,
			"total_count": totalCount,
			"page":        filters.Page,
			"page_size":   filters.PageSize,
		})
	}
}

func handleInstanceProgress(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		instanceID := chi.URLParam(r, "instanceId")

		progress, err := engine.GetProgress(r.Context(), actor, instanceID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, progress)
	}
}

func handleInstanceValidation(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		instanceID := chi.URLParam(r, "instanceId")

		report, err := engine.ValidateCompletion(r.Context(), actor, instanceID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}

func handleInstanceAudit(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		instanceID := chi.URLParam(r, "instanceId")

		events, err := engine.GetAuditTrail(r.Context(), actor, instanceID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": events})
	}
}

// queryInt parses an integer query parameter with a fallback default.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// recordFailure counts a rejected mutation by its error code.
func recordFailure(metrics *observability.Metrics, err error) {
	if metrics != nil {
		metrics.RecordPreconditionFailure(model.CodeOf(err))
	}
}
