package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/app"
)

// StreamHandler serves the processed camera feed as MJPEG.
type StreamHandler struct {
	detector Detector
	log      *zap.SugaredLogger
}

// NewStreamHandler creates a StreamHandler. A nil detector answers 503.
func NewStreamHandler(d Detector, logger *zap.SugaredLogger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StreamHandler{detector: d, log: logger}
}

// ServeHTTP streams MJPEG frames until the client goes away or the detector
// stops.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.detector == nil {
		h.log.Warnw("stream requested but camera is unavailable")
		writeError(w, http.StatusServiceUnavailable, "Camera not available")
		return
	}

	header := w.Header()
	header.Set("Content-Type", app.ContentType)
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")
	header.Set("X-Accel-Buffering", "no")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	err := h.detector.Stream(r.Context(), func(chunk []byte) error {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Debugw("stream ended", "error", err)
	}
}
