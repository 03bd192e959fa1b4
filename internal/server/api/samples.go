package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
)

// SampleHandler records training samples for the retrain command.
type SampleHandler struct {
	samples *classifier.SampleDir
	catalog classifier.Catalog
	capture func() (detector.HandLandmarks, error)
	log     *zap.SugaredLogger
	now     func() time.Time
}

// NewSampleHandler creates a SampleHandler. capture returns the hand in the
// current camera frame; it may be nil, in which case only samples sent with
// landmarks are accepted.
func NewSampleHandler(samples *classifier.SampleDir, catalog classifier.Catalog, capture func() (detector.HandLandmarks, error), logger *zap.SugaredLogger) *SampleHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SampleHandler{samples: samples, catalog: catalog, capture: capture, log: logger, now: time.Now}
}

// ServeHTTP implements the http.Handler interface.
// Expected paths: /api/samples or /api/samples/{label}
func (h *SampleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	label := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/samples"), "/")

	if label == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.clear(w, label)
}

type createSampleRequest struct {
	Label     string             `json:"label"`
	Landmarks []detector.Point3D `json:"landmarks"`
}

type sampleResponse struct {
	Label string `json:"label"`
	File  string `json:"file"`
	Count int    `json:"count"`
}

type listSamplesResponse struct {
	DataDir string         `json:"data_dir"`
	Samples map[string]int `json:"samples"`
}

// list handles GET /api/samples
func (h *SampleHandler) list(w http.ResponseWriter) {
	counts, err := h.samples.Counts(h.catalog.Labels())
	if err != nil {
		h.log.Warnw("failed to count samples", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to count samples")
		return
	}
	writeJSON(w, http.StatusOK, listSamplesResponse{DataDir: h.samples.Root(), Samples: counts})
}

// create handles POST /api/samples. Without landmarks in the body the hand
// in the current camera frame is recorded.
func (h *SampleHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "No label provided")
		return
	}
	if _, ok := h.catalog.Index(req.Label); !ok {
		writeError(w, http.StatusBadRequest, "Unknown label")
		return
	}

	hand := detector.HandLandmarks{Points: req.Landmarks}
	if len(req.Landmarks) == 0 {
		if h.capture == nil {
			writeError(w, http.StatusServiceUnavailable, "Camera not available")
			return
		}
		var err error
		hand, err = h.capture()
		switch {
		case errors.Is(err, app.ErrNoFrame), errors.Is(err, app.ErrNoDetector):
			writeError(w, http.StatusServiceUnavailable, "Camera not available")
			return
		case errors.Is(err, app.ErrNoHand):
			writeError(w, http.StatusUnprocessableEntity, "No hand detected")
			return
		case err != nil:
			h.log.Warnw("hand capture failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to capture hand")
			return
		}
	}

	path, err := h.samples.Add(req.Label, hand, h.now())
	if errors.Is(err, classifier.ErrInvalidSample) {
		writeError(w, http.StatusBadRequest, "Landmarks must have 21 points")
		return
	}
	if err != nil {
		h.log.Warnw("failed to save sample", "label", req.Label, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save sample")
		return
	}

	count, err := h.samples.Count(req.Label)
	if err != nil {
		h.log.Warnw("failed to count samples", "label", req.Label, "error", err)
	}
	writeJSON(w, http.StatusCreated, sampleResponse{Label: req.Label, File: path, Count: count})
}

// clear handles DELETE /api/samples/{label}
func (h *SampleHandler) clear(w http.ResponseWriter, label string) {
	n, err := h.samples.Clear(label)
	if errors.Is(err, classifier.ErrInvalidLabel) {
		writeError(w, http.StatusBadRequest, "Invalid label")
		return
	}
	if err != nil {
		h.log.Warnw("failed to clear samples", "label", label, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear samples")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
