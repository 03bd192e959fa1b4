// Package server provides the HTTP server for the Mudra sign detector.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/retrain"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

// Detector is the part of app.App the server exposes.
type Detector interface {
	Stream(ctx context.Context, emit func(chunk []byte) error) error
	Snapshot() ([]byte, error)
	Latest() app.Detection
	History() []app.Detection
	ClearHistory()
	Status() app.Status
	ReloadModel() error
	CaptureHand() (detector.HandLandmarks, error)
	Stop()
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	// Detector serves the stream and detections. Nil answers 503.
	Detector  Detector
	Retrain   *retrain.Runner
	ModelPath string
	// Samples receives recorded training samples. Nil disables /api/samples.
	Samples *classifier.SampleDir
	// Catalog lists the labels samples may be recorded for. Empty means
	// classifier.DefaultCatalog.
	Catalog classifier.Catalog
	// DownloadPerMinute limits model downloads per client IP. Zero disables
	// the limit.
	DownloadPerMinute int
	Logger            *zap.SugaredLogger
}

// Server represents the HTTP server for the Mudra application.
type Server struct {
	config Config
	log    *zap.SugaredLogger
	mux    *http.ServeMux
	start  time.Time
	latest *LatestHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	s := &Server{
		config: config,
		log:    config.Logger,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	s.mux.Handle("/api/stream", NewStreamHandler(s.config.Detector, s.log.Named("stream")))
	s.mux.HandleFunc("/api/frame", s.handleFrame)
	s.mux.HandleFunc("/api/latest", s.handleLatest)
	s.mux.HandleFunc("/api/history", s.handleHistory)
	s.mux.HandleFunc("/api/status", s.handleStatus)

	if s.config.Detector != nil {
		s.latest = NewLatestHandler(s.config.Detector, s.log.Named("ws"))
		s.mux.Handle("/api/latest/ws", s.latest)
	}

	var reload func() error
	if s.config.Detector != nil {
		reload = s.config.Detector.ReloadModel
	}
	models := api.NewModelHandler(api.ModelConfig{
		Reload:    reload,
		Retrain:   s.config.Retrain,
		ModelPath: s.config.ModelPath,
		Store:     s.config.Store,
		Logger:    s.log.Named("model"),
	})
	download := http.Handler(models)
	if n := s.config.DownloadPerMinute; n > 0 {
		download = httprate.Limit(n, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))(models)
	}
	s.mux.Handle("/api/model/download", download)
	s.mux.Handle("/api/model/", models)

	if s.config.Samples != nil {
		catalog := s.config.Catalog
		if catalog.Len() == 0 {
			catalog = classifier.DefaultCatalog()
		}
		var capture func() (detector.HandLandmarks, error)
		if s.config.Detector != nil {
			capture = s.config.Detector.CaptureHand
		}
		samples := api.NewSampleHandler(s.config.Samples, catalog, capture, s.log.Named("samples"))
		s.mux.Handle("/api/samples", samples)
		s.mux.Handle("/api/samples/", samples)
	}

	if s.config.Store != nil {
		var latest func() app.Detection
		if s.config.Detector != nil {
			latest = s.config.Detector.Latest
		}
		detections := api.NewDetectionHandler(s.config.Store, latest)
		s.mux.Handle("/api/detections", detections)
		s.mux.Handle("/api/detections/", detections)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status":   "ok",
		"uptime":   uptime.String(),
		"detector": s.config.Detector != nil,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleFrame returns one processed frame as a JPEG.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if !s.getWithDetector(w, r) {
		return
	}

	jpeg, err := s.config.Detector.Snapshot()
	if errors.Is(err, app.ErrNoFrame) {
		writeError(w, http.StatusServiceUnavailable, "No frame available yet")
		return
	}
	if err != nil {
		s.log.Warnw("snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to encode frame")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(jpeg)
}

// handleLatest returns the current detection. The label is null when no
// sign is detected.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !s.getWithDetector(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, toLatest(s.config.Detector.Latest()))
}

// handleHistory returns the in-memory detection history. DELETE clears it.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.config.Detector == nil {
		writeError(w, http.StatusServiceUnavailable, "Camera not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		history := s.config.Detector.History()
		if history == nil {
			history = []app.Detection{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": history})
	case http.MethodDelete:
		s.config.Detector.ClearHistory()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStatus reports whether the detector is ready.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.getWithDetector(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.config.Detector.Status())
}

// getWithDetector rejects non-GET requests and requests made while no
// detector is available. It reports whether the handler should continue.
func (s *Server) getWithDetector(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if s.config.Detector == nil {
		writeError(w, http.StatusServiceUnavailable, "Camera not available")
		return false
	}
	return true
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.Close()
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On cancellation the
// detector is stopped first so open streams end, then the server shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Infow("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
	}

	if s.config.Detector != nil {
		s.config.Detector.Stop()
	}

	// Streams that ignore the stop flag are cut off after a grace period.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = srv.Close()
	}
	s.Close()
	return err
}

// Close stops background work started by the server.
func (s *Server) Close() {
	if s.latest != nil {
		s.latest.Close()
	}
}

// latestResponse is the JSON form of the current detection.
type latestResponse struct {
	Label       *string `json:"label"`
	Confidence  float64 `json:"confidence"`
	Translation *string `json:"translation"`
	Timestamp   *int64  `json:"timestamp"`
}

func toLatest(d app.Detection) latestResponse {
	if d.None() {
		return latestResponse{}
	}
	label, translation := d.Label, d.Translation
	ts := d.Timestamp.UnixMilli()
	return latestResponse{
		Label:       &label,
		Confidence:  d.Confidence,
		Translation: &translation,
		Timestamp:   &ts,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
