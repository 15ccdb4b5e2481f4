package security

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the only error shape the API emits. Error is a stable
// machine-readable code; Details carries code-specific fields such as
// attempts_left or the exceeded limit.
type ErrorResponse struct {
	Error         string         `json:"error"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	WriteJSONErrorDetails(w, r, status, code, nil)
}

func WriteJSONErrorDetails(w http.ResponseWriter, r *http.Request, status int, code string, details map[string]any) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:         code,
		CorrelationID: cid,
		Details:       details,
	})
}
