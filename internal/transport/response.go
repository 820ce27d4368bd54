// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the signature workflow API.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/curalink/signchain/internal/observability"
	"github.com/curalink/signchain/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:    http.StatusBadRequest,
	model.ErrUnauthorized:  http.StatusUnauthorized,
	model.ErrForbidden:     http.StatusForbidden,
	model.ErrNotFound:      http.StatusNotFound,
	model.ErrConflict:      http.StatusConflict,
	model.ErrInternalError: http.StatusInternalServerError,

	model.ErrConfigurationNotFound:  http.StatusNotFound,
	model.ErrUnknownStep:            http.StatusNotFound,
	model.ErrPermissionDenied:       http.StatusForbidden,
	model.ErrInstanceTerminal:       http.StatusConflict,
	model.ErrInstanceEscalated:      http.StatusConflict,
	model.ErrStepNotReady:           http.StatusConflict,
	model.ErrConcurrentModification: http.StatusConflict,
	model.ErrInvalidConfiguration:   http.StatusUnprocessableEntity,
	model.ErrWitnessRequired:        http.StatusUnprocessableEntity,
	model.ErrWitnessNotAllowed:      http.StatusUnprocessableEntity,
	model.ErrSigningFailed:          http.StatusBadGateway,
	model.ErrStoreUnavailable:       http.StatusServiceUnavailable,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is
// returned. The active trace ID, if any, is attached for correlation.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if ee.TraceID == "" && r != nil {
		ee.TraceID = observability.TraceIDFromContext(r.Context())
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}
