package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/attendance"
	"github.com/kozaktomas/facewatch/internal/constants"
)

// localRetry is how soon the collator resubscribes after a local run ends.
const localRetry = time.Second

// AttendanceHandler handles the attendance roster and collation endpoints.
type AttendanceHandler struct {
	collator   *attendance.Collator
	local      attendance.ResultStream
	outputPath string
	log        logs.Log
}

// NewAttendanceHandler creates a new attendance handler. local subscribes to
// this instance's results and is used when no remote URL is given.
func NewAttendanceHandler(collator *attendance.Collator, local attendance.ResultStream, outputPath string, log logs.Log) *AttendanceHandler {
	return &AttendanceHandler{
		collator:   collator,
		local:      local,
		outputPath: outputPath,
		log:        log,
	}
}

// UploadRoster replaces the roster with the people of an uploaded identity
// source file (multipart field jsonFile).
func (h *AttendanceHandler) UploadRoster(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRosterUploadSize)
	if err := r.ParseMultipartForm(constants.MaxRosterUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "unable to parse form")
		return
	}

	file, _, err := r.FormFile("jsonFile")
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to get file from form")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read file")
		return
	}

	if err := h.collator.Store().LoadRoster(data); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON format")
		return
	}

	h.log.Infof("Loaded attendance roster (%d people)", h.collator.Store().Count().Total)
	respondOK(w)
}

// StartCollate starts applying results from frUrl, or from this instance's
// own stream when frUrl is empty or "local". updateInterval is in seconds.
func (h *AttendanceHandler) StartCollate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxFormSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		respondError(w, http.StatusBadRequest, "could not parse form")
		return
	}

	seconds, err := strconv.ParseFloat(r.FormValue("updateInterval"), 64)
	if err != nil || seconds <= 0 {
		respondError(w, http.StatusBadRequest, "update interval unable to be parsed")
		return
	}
	interval := time.Duration(seconds * float64(time.Second))

	url := r.FormValue("frUrl")
	if url == "" || url == attendance.LocalSource {
		err = h.collator.Follow(r.Context(), attendance.LocalSource, interval, localRetry, h.local)
	} else {
		err = h.collator.AddRemote(r.Context(), url, interval)
	}

	if err != nil {
		if errors.Is(err, attendance.ErrAlreadyCollating) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.log.Warnf("Starting collation from %s: %v", sanitizeForLog(url), err)
		respondError(w, http.StatusBadRequest, "URL provided does not work!")
		return
	}
	respondOK(w)
}

// StopCollate stops collating from frUrl.
func (h *AttendanceHandler) StopCollate(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("frUrl")
	if url == "" {
		url = attendance.LocalSource
	}
	h.collator.Remove(url)
	respondOK(w)
}

// Sources lists the sources being collated.
func (h *AttendanceHandler) Sources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.collator.Sources())
}

// ChangeAttendance toggles the attendance flag of ?name.
func (h *AttendanceHandler) ChangeAttendance(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if !h.collator.Store().Mark(name) {
		respondError(w, http.StatusNotFound, "name not on roster")
		return
	}
	respondOK(w)
}

// Fetch returns every record and saves them to the output file.
func (h *AttendanceHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	store := h.collator.Store()
	data, err := store.JSON()
	if err != nil {
		h.log.Errorf("Encoding attendance: %v", err)
		respondError(w, http.StatusInternalServerError, "error marshaling to JSON")
		return
	}

	if h.outputPath != "" {
		if err := store.Save(h.outputPath); err != nil {
			h.log.Warnf("Saving attendance to %s: %v", h.outputPath, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Count returns roster totals.
func (h *AttendanceHandler) Count(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.collator.Store().Count())
}
