package api

import (
	"encoding/json"

	"adsingest/pkg/httpx"
)

type ingestResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// writeJSON writes the provided value as JSON with the given status code.
func writeJSON(w httpx.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope. requestID may be empty.
func writeError(w httpx.ResponseWriter, status int, requestID, message string) {
	writeJSON(w, status, ingestResponse{Status: "error", RequestID: requestID, Message: message})
}
