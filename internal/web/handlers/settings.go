package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/constants"
	"github.com/kozaktomas/facewatch/internal/settings"
)

// SettingsSession reads and replaces the recognition settings.
type SettingsSession interface {
	Settings() settings.Settings
	UpdateSettings(next settings.Settings) (settings.Settings, error)
}

// SettingsHandler handles the settings endpoints.
type SettingsHandler struct {
	session SettingsSession
	log     logs.Log
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(s SettingsSession, log logs.Log) *SettingsHandler {
	return &SettingsHandler{session: s, log: log}
}

// Get returns the active settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session.Settings())
}

// Update applies a JSON settings document. Fields missing from the body keep
// their current values.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	next := h.session.Settings()
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	applied, ok := h.apply(w, next)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, applied)
}

// Submit handles the settings form. Checkboxes are on when present; other
// fields keep their current value when absent. Redirects to /settings.
func (h *SettingsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxFormSize)
	if err := r.ParseMultipartForm(constants.MaxFormSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		respondError(w, http.StatusBadRequest, "could not parse form")
		return
	}

	next, err := settingsFromForm(r, h.session.Settings())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := h.apply(w, next); !ok {
		return
	}
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

func (h *SettingsHandler) apply(w http.ResponseWriter, next settings.Settings) (settings.Settings, bool) {
	applied, err := h.session.UpdateSettings(next)
	if err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			respondError(w, http.StatusBadRequest, err.Error())
			return applied, false
		}
		h.log.Errorf("Saving settings: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to save settings")
		return applied, false
	}
	return applied, true
}

func settingsFromForm(r *http.Request, current settings.Settings) (settings.Settings, error) {
	next := current
	floats := []struct {
		key string
		dst *float64
	}{
		{"threshold", &next.Threshold},
		{"threshold_lenient_diff", &next.ThresholdLenientDiff},
		{"similarity_gap", &next.SimilarityGap},
		{"threshold_prev", &next.ThresholdPrev},
		{"threshold_iou", &next.ThresholdIOU},
		{"threshold_lenient_pers", &next.ThresholdLenientPers},
	}
	for _, f := range floats {
		raw, ok := formValue(r, f.key)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return current, fmt.Errorf("%s must be a number", f.key)
		}
		*f.dst = v
	}

	// holding_time may arrive as "15.0"; the fraction is dropped.
	if raw, ok := formValue(r, "holding_time"); ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return current, errors.New("holding_time must be a number")
		}
		if math.IsNaN(v) || v < 0 || v > settings.MaxHoldingTime {
			return current, fmt.Errorf("holding_time must be within [0, %d]", settings.MaxHoldingTime)
		}
		next.HoldingTime = int(v)
	}

	_, next.UseDifferentiator = r.Form["use_differentiator"]
	_, next.UsePersistor = r.Form["use_persistor"]
	return next, nil
}

func formValue(r *http.Request, key string) (string, bool) {
	values, ok := r.Form[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}
