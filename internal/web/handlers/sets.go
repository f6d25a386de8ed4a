package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/catalog"
	"github.com/kozaktomas/face-scan/internal/constants"
	"github.com/kozaktomas/face-scan/internal/database"
	"github.com/kozaktomas/face-scan/internal/facematch"
)

// SetsHandler manages candidate sets.
type SetsHandler struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewSetsHandler creates a new sets handler.
func NewSetsHandler(c *catalog.Catalog, logger *zap.Logger) *SetsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SetsHandler{catalog: c, logger: logger}
}

// CreateSetRequest uploads the images of a candidate set. Images are base64 in JSON.
type CreateSetRequest struct {
	Name   string   `json:"name"`
	Images [][]byte `json:"images"`
	// Reuse keeps persisted templates of the set instead of clearing them.
	Reuse bool `json:"reuse"`
}

// Create creates or replaces a candidate set.
func (h *SetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	var (
		set *catalog.Set
		err error
	)
	if req.Reuse {
		set, err = h.catalog.Open(r.Context(), req.Name, req.Images)
	} else {
		set, err = h.catalog.Create(r.Context(), req.Name, req.Images)
	}
	if errors.Is(err, catalog.ErrInvalidName) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to create set", zap.String("set", sanitizeForLog(req.Name)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create set")
		return
	}

	respondJSON(w, http.StatusCreated, set.Summary())
}

// List returns the loaded sets.
func (h *SetsHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"sets":       h.catalog.List(),
		"persistent": h.catalog.Persistent(),
	})
}

// Get returns one loaded set.
func (h *SetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	set, err := h.catalog.Get(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusNotFound, "set not found")
		return
	}
	respondJSON(w, http.StatusOK, set.Summary())
}

// Delete unloads a set and removes its templates.
func (h *SetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.catalog.Delete(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, catalog.ErrSetNotFound) {
		respondError(w, http.StatusNotFound, "set not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete set", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete set")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// NearestRequest asks for the cached templates closest to a feature.
type NearestRequest struct {
	Feature map[string][]float64 `json:"feature"`
	K       int                  `json:"k"`
}

// NearestResponse lists neighbors, closest first.
type NearestResponse struct {
	Set       string           `json:"set"`
	Neighbors []NeighborResult `json:"neighbors"`
}

// NeighborResult is one shortlisted template.
type NeighborResult struct {
	Index    int     `json:"index"`
	Distance float64 `json:"distance"`
}

// Nearest returns the HNSW shortlist of persisted templates for a feature.
func (h *SetsHandler) Nearest(w http.ResponseWriter, r *http.Request) {
	name := catalog.NormalizeName(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "missing set name")
		return
	}

	var req NearestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	fv, err := facematch.FromMap(req.Feature)
	if err != nil || len(fv) == 0 {
		respondError(w, http.StatusBadRequest, "invalid feature")
		return
	}
	if req.K <= 0 {
		req.K = constants.DefaultNearestK
	}

	neighbors, err := h.catalog.FindNearest(r.Context(), name, fv, req.K)
	switch {
	case errors.Is(err, catalog.ErrNoStore):
		respondError(w, http.StatusServiceUnavailable, "template store not configured")
		return
	case errors.Is(err, facematch.ErrShapeMismatch):
		respondError(w, http.StatusBadRequest, "feature does not match indexed shape")
		return
	case err != nil:
		h.logger.Error("nearest search failed", zap.String("set", name), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "nearest search failed")
		return
	}

	respondJSON(w, http.StatusOK, NearestResponse{Set: name, Neighbors: toNeighborResults(neighbors)})
}

func toNeighborResults(in []database.Neighbor) []NeighborResult {
	out := make([]NeighborResult, len(in))
	for i, n := range in {
		out[i] = NeighborResult{Index: n.Index, Distance: n.Distance}
	}
	return out
}
