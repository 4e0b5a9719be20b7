package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://attendance.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantOrigin string
		wantStatus int
	}{
		{"configured origin", http.MethodGet, "https://attendance.example", "https://attendance.example", http.StatusTeapot},
		{"localhost with port", http.MethodGet, "http://localhost:5173", "http://localhost:5173", http.StatusTeapot},
		{"localhost lookalike", http.MethodGet, "http://localhost.evil.example", "", http.StatusTeapot},
		{"unknown origin", http.MethodGet, "https://evil.example", "", http.StatusTeapot},
		{"preflight", http.MethodOptions, "https://attendance.example", "https://attendance.example", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/frResults", nil)
			req.Header.Set("Origin", tc.origin)
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, req)

			if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Errorf("expected allow-origin %q, got %q", tc.wantOrigin, got)
			}
			if recorder.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, recorder.Code)
			}
		})
	}
}

func TestCheckWebSocketOrigin(t *testing.T) {
	check := CheckWebSocketOrigin([]string{"https://attendance.example"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.com", true}, // same host as the request
		{"https://attendance.example", true},
		{"http://localhost:3000", true},
		{"https://evil.example", false},
	}

	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/results/ws", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := check(req); got != tc.want {
			t.Errorf("origin %q: expected %v, got %v", tc.origin, tc.want, got)
		}
	}
}
