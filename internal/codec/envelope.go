package codec

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope is the uniform wrapper around every successful response.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ErrorBody is written for every failed request. Detail carries upstream
// error text verbatim when the failure came from the provider.
type ErrorBody struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes {"success": true, "data": data} with status 200.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// WriteError writes {"success": false, "detail": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", message)
	} else {
		slog.Warn("request rejected", "status", status, "error", message)
	}
	WriteJSON(w, status, ErrorBody{Success: false, Detail: message})
}
