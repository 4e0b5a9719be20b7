package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/constants"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/session"
)

// IdentityLoader fills the gallery from a data file or the record store.
type IdentityLoader interface {
	LoadIdentities(ctx context.Context, dataFile string) error
}

// IdentitiesHandler lists and loads enrolled identities.
type IdentitiesHandler struct {
	gallery *database.Gallery
	store   database.RecordReader
	loader  IdentityLoader
	log     logs.Log
}

// NewIdentitiesHandler creates a new identities handler. store may be nil.
func NewIdentitiesHandler(gallery *database.Gallery, store database.RecordReader, loader IdentityLoader, log logs.Log) *IdentitiesHandler {
	return &IdentitiesHandler{gallery: gallery, store: store, loader: loader, log: log}
}

// IdentitiesResponse lists the loaded identities.
type IdentitiesResponse struct {
	Loaded      int      `json:"loaded"`
	Names       []string `json:"names"`
	Stored      *int     `json:"stored,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

// List returns the identities currently in the gallery and the number of
// stored identities.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := IdentitiesResponse{
		Names:       h.gallery.Names(),
		Fingerprint: h.gallery.Fingerprint(),
	}
	resp.Loaded = len(resp.Names)

	if h.store != nil {
		count, err := h.store.Count(r.Context())
		if err != nil {
			h.log.Warnf("Counting stored identities: %v", err)
		} else {
			resp.Stored = &count
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// LoadRequest selects the identity source to load.
type LoadRequest struct {
	DataFile string `json:"data_file"`
}

// Load enrolls a data file, or loads the stored identities when no file is given.
func (h *IdentitiesHandler) Load(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := h.loader.LoadIdentities(r.Context(), req.DataFile); err != nil {
		switch {
		case errors.Is(err, session.ErrBadExtension), errors.Is(err, session.ErrSourceNotFound):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrNoRecordStore):
			respondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.log.Errorf("Loading identities from %q: %v", sanitizeForLog(req.DataFile), err)
			respondError(w, http.StatusInternalServerError, "failed to load identities")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"loaded": h.gallery.Len()})
}
