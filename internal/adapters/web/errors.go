package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"accounting-agent/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps a core.DomainError's category to an HTTP status per
// spec §7. A non-DomainError (should not happen past the service boundary)
// falls back to 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *core.DomainError
	if !errors.As(err, &de) {
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	status := http.StatusInternalServerError
	switch de.Category {
	case core.CategoryValidation:
		status = http.StatusBadRequest
	case core.CategoryNotFound:
		status = http.StatusNotFound
	case core.CategoryConflict:
		status = http.StatusConflict
	case core.CategoryInsufficient:
		status = http.StatusUnprocessableEntity
	case core.CategoryAuthz:
		status = http.StatusForbidden
		if de.Code == "Unauthenticated" || de.Code == "InvalidCredentials" {
			status = http.StatusUnauthorized
		}
	case core.CategoryInfra:
		status = http.StatusInternalServerError
	}
	writeError(w, r, de.Message, de.Code, status)
}
