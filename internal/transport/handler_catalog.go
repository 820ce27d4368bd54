package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/curalink/signchain/internal/catalog"
	"github.com/curalink/signchain/model"
)

func handleCatalogList(reg *catalog.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		configs := reg.All()
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":     configs,
			"checksum": reg.Checksum(),
		})
	}
}

func handleCatalogGet(reg *catalog.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := chi.URLParam(r, "workflowId")
		cfg, ok := reg.Get(workflowID)
		if !ok {
			WriteError(w, r, model.NewConfigurationNotFoundError(workflowID))
			return
		}
		WriteJSON(w, http.StatusOK, cfg)
	}
}
