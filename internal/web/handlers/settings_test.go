package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/kozaktomas/facewatch/internal/settings"
)

func TestSettingsHandler_Get(t *testing.T) {
	fake := newFakeSession()
	h := NewSettingsHandler(fake, testLog(t))

	recorder := httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))

	var got settings.Settings
	if err := json.Unmarshal(recorder.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if got != settings.Defaults() {
		t.Errorf("expected defaults, got %+v", got)
	}
}

func TestSettingsHandler_SubmitForm(t *testing.T) {
	fake := newFakeSession()
	h := NewSettingsHandler(fake, testLog(t))

	recorder := httptest.NewRecorder()
	h.Submit(recorder, formRequest(http.MethodPost, "/submit", url.Values{
		"threshold":     {"0.4"},
		"holding_time":  {"12.7"},
		"use_persistor": {"on"},
	}))

	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected status 303, got %d", recorder.Code)
	}
	if loc := recorder.Header().Get("Location"); loc != "/settings" {
		t.Errorf("expected redirect to /settings, got %q", loc)
	}

	got := fake.Settings()
	defaults := settings.Defaults()
	if got.Threshold != 0.4 {
		t.Errorf("expected threshold 0.4, got %v", got.Threshold)
	}
	if got.HoldingTime != 12 {
		t.Errorf("expected holding_time 12, got %d", got.HoldingTime)
	}
	if got.UseDifferentiator {
		t.Error("absent checkbox should turn use_differentiator off")
	}
	if !got.UsePersistor {
		t.Error("present checkbox should turn use_persistor on")
	}
	if got.SimilarityGap != defaults.SimilarityGap {
		t.Errorf("absent field should keep its value, got %v", got.SimilarityGap)
	}
}

func TestSettingsHandler_SubmitInvalid(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
	}{
		{"not a number", url.Values{"threshold": {"abc"}}},
		{"out of range", url.Values{"threshold": {"2.5"}}},
		{"negative holding", url.Values{"holding_time": {"-1"}}},
		{"negative fraction holding", url.Values{"holding_time": {"-0.5"}}},
		{"holding beyond one day", url.Values{"holding_time": {"86401"}}},
		{"holding beyond int range", url.Values{"holding_time": {"1e300"}}},
		{"holding not a number", url.Values{"holding_time": {"NaN"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeSession()
			h := NewSettingsHandler(fake, testLog(t))

			recorder := httptest.NewRecorder()
			h.Submit(recorder, formRequest(http.MethodPost, "/submit", tc.values))

			if recorder.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", recorder.Code)
			}
			if fake.Settings() != settings.Defaults() {
				t.Error("settings must not change on a rejected submit")
			}
		})
	}
}

func TestSettingsHandler_UpdateJSON(t *testing.T) {
	fake := newFakeSession()
	h := NewSettingsHandler(fake, testLog(t))

	recorder := httptest.NewRecorder()
	h.Update(recorder, httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader(`{"threshold":0.5}`)))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	got := fake.Settings()
	if got.Threshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %v", got.Threshold)
	}
	if got.UsePersistor != settings.Defaults().UsePersistor {
		t.Error("fields missing from the body should keep their value")
	}
}

func TestSettingsHandler_UpdateErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		updateErr error
		want      int
	}{
		{"malformed", `{"threshold":`, nil, http.StatusBadRequest},
		{"invalid", `{"threshold_iou":3}`, nil, http.StatusBadRequest},
		{"persist failure", `{"threshold":0.5}`, errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeSession()
			fake.updateErr = tc.updateErr
			h := NewSettingsHandler(fake, testLog(t))

			recorder := httptest.NewRecorder()
			h.Update(recorder, httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader(tc.body)))
			if recorder.Code != tc.want {
				t.Errorf("expected status %d, got %d", tc.want, recorder.Code)
			}
		})
	}
}
