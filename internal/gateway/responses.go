package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/stellarlinkco/chronicle/internal/applog"
)

// APIResponse is the envelope for every JSON reply.
type APIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(&APIResponse{Code: status, Message: "ok", Data: data}); err != nil {
		applog.Warn("[Gateway] write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&APIResponse{Code: status, Message: message})
}
