package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondOK sends {"status":"ok"}.
func respondOK(w http.ResponseWriter) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EmbedderHealth reports whether the face embedding service is reachable.
type EmbedderHealth interface {
	Health(ctx context.Context) error
}

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	embedder EmbedderHealth
	backend  func() string
}

// NewHealthHandler creates a health handler. embedder may be nil.
func NewHealthHandler(embedder EmbedderHealth, backend func() string) *HealthHandler {
	return &HealthHandler{embedder: embedder, backend: backend}
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status   string `json:"status"`
	Backend  string `json:"backend,omitempty"`
	Embedder string `json:"embedder,omitempty"`
}

// Check handles the health check endpoint. The service is reported healthy
// even when the embedder is down so that stream control stays usable.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.backend != nil {
		resp.Backend = h.backend()
	}
	if h.embedder != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.embedder.Health(ctx); err != nil {
			resp.Embedder = "unreachable: " + err.Error()
		} else {
			resp.Embedder = "ok"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
