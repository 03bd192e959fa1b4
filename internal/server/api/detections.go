package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/store"
)

// DefaultListLimit is the number of detections returned when no limit is
// given.
const DefaultListLimit = 10

const maxListLimit = 500

// DetectionHandler handles HTTP requests for saved detections.
type DetectionHandler struct {
	store  *store.Store
	latest func() app.Detection
	now    func() time.Time
}

// NewDetectionHandler creates a DetectionHandler. latest supplies the current
// detection for saves with an empty body; it may be nil.
func NewDetectionHandler(s *store.Store, latest func() app.Detection) *DetectionHandler {
	return &DetectionHandler{store: s, latest: latest, now: time.Now}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *DetectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/detections or /api/detections/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/detections")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		case http.MethodDelete:
			h.deleteByKind(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, path)
	case http.MethodDelete:
		h.delete(w, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type createDetectionRequest struct {
	Type        string   `json:"type"`
	Label       string   `json:"label"`
	Translation string   `json:"translation"`
	Confidence  *float64 `json:"confidence"`
}

type listDetectionsResponse struct {
	TotalToday int                `json:"total_today"`
	Detections []*store.Detection `json:"detections"`
}

// list handles GET /api/detections[?type=sign&limit=N].
func (h *DetectionHandler) list(w http.ResponseWriter, r *http.Request) {
	kind := store.Kind(r.URL.Query().Get("type"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid detection type")
		return
	}

	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	detections, err := h.store.Detections().List(kind, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list detections")
		return
	}

	now := h.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	total, err := h.store.Detections().CountSince(kind, today)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count detections")
		return
	}

	if detections == nil {
		detections = []*store.Detection{}
	}
	writeJSON(w, http.StatusOK, listDetectionsResponse{TotalToday: total, Detections: detections})
}

// get handles GET /api/detections/{id}.
func (h *DetectionHandler) get(w http.ResponseWriter, id string) {
	d, err := h.store.Detections().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Detection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get detection")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// create handles POST /api/detections. An empty body saves the current
// detection.
func (h *DetectionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createDetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	d := &store.Detection{
		Kind:        store.Kind(req.Type),
		Label:       req.Label,
		Translation: req.Translation,
		Confidence:  1.0,
	}
	if d.Kind == "" {
		d.Kind = store.KindSign
	}
	if !d.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid detection type")
		return
	}
	if req.Confidence != nil {
		d.Confidence = *req.Confidence
	}

	if d.Label == "" && d.Kind == store.KindSign && h.latest != nil {
		if cur := h.latest(); !cur.None() {
			d.Label = cur.Label
			d.Translation = cur.Translation
			d.Confidence = cur.Confidence
			d.DetectedAt = cur.Timestamp
		}
	}
	if d.Label == "" {
		writeError(w, http.StatusBadRequest, "No sign provided")
		return
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		writeError(w, http.StatusBadRequest, "Confidence must be between 0 and 1")
		return
	}

	if err := h.store.Detections().Create(d); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save detection")
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// delete handles DELETE /api/detections/{id}.
func (h *DetectionHandler) delete(w http.ResponseWriter, id string) {
	if err := h.store.Detections().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Detection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete detection")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// deleteByKind handles DELETE /api/detections?type=sign.
func (h *DetectionHandler) deleteByKind(w http.ResponseWriter, r *http.Request) {
	kind := store.Kind(r.URL.Query().Get("type"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid detection type")
		return
	}

	n, err := h.store.Detections().DeleteByKind(kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete detections")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}
