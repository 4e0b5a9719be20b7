package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		data     any
		wantBody string
	}{
		{"object", http.StatusOK, map[string]string{"status": "ok"}, "{\"status\":\"ok\"}\n"},
		{"empty map", http.StatusCreated, map[string]string{}, "{}\n"},
		{"nil data", http.StatusNoContent, nil, ""},
		{"array", http.StatusOK, []int{1, 2}, "[1,2]\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.status, tc.data)

			if recorder.Code != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, recorder.Code)
			}
			if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
			}
			if recorder.Body.String() != tc.wantBody {
				t.Errorf("expected body %q, got %q", tc.wantBody, recorder.Body.String())
			}
		})
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "something went wrong")

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", recorder.Code)
	}
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["error"] != "something went wrong" {
		t.Errorf("expected error 'something went wrong', got '%s'", result["error"])
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("rtsp://cam\r\nINFO fake"); got != "rtsp://camINFO fake" {
		t.Errorf("sanitizeForLog = %q", got)
	}
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Health(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name         string
		embedder     EmbedderHealth
		wantEmbedder string
	}{
		{"no embedder", nil, ""},
		{"embedder up", fakeEmbedder{}, "ok"},
		{"embedder down", fakeEmbedder{err: errors.New("connection refused")}, "unreachable: connection refused"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandler(tc.embedder, func() string { return "postgres" })
			recorder := httptest.NewRecorder()
			h.Check(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			if recorder.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", recorder.Code)
			}
			var resp HealthResponse
			if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.Status != "ok" || resp.Backend != "postgres" {
				t.Errorf("unexpected response %+v", resp)
			}
			if resp.Embedder != tc.wantEmbedder {
				t.Errorf("expected embedder %q, got %q", tc.wantEmbedder, resp.Embedder)
			}
		})
	}
}
