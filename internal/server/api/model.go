package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/retrain"
	"github.com/ayusman/mudra/internal/store"
)

// LastRetrainKey is the settings key holding when a retrain was last started.
const LastRetrainKey = "model.last_retrain"

// ModelConfig configures a ModelHandler.
type ModelConfig struct {
	// Reload swaps in the model file. Nil answers 503.
	Reload func() error
	// Retrain runs the training command. Nil answers 503.
	Retrain   *retrain.Runner
	ModelPath string
	// Store records retrain starts when set.
	Store  *store.Store
	Logger *zap.SugaredLogger
}

// ModelHandler handles the /api/model endpoints.
type ModelHandler struct {
	cfg ModelConfig
	log *zap.SugaredLogger
}

// NewModelHandler creates a ModelHandler.
func NewModelHandler(cfg ModelConfig) *ModelHandler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &ModelHandler{cfg: cfg, log: cfg.Logger}
}

// ServeHTTP routes model requests.
func (h *ModelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/model/reload":
		h.only(http.MethodPost, h.reload)(w, r)
	case "/api/model/retrain":
		h.only(http.MethodPost, h.retrain)(w, r)
	case "/api/model/retrain/status":
		h.only(http.MethodGet, h.retrainStatus)(w, r)
	case "/api/model/download":
		h.only(http.MethodGet, h.download)(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *ModelHandler) only(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// reload handles POST /api/model/reload.
func (h *ModelHandler) reload(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Reload == nil {
		writeError(w, http.StatusServiceUnavailable, "Camera not available")
		return
	}

	err := h.cfg.Reload()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	case errors.Is(err, classifier.ErrModelNotFound):
		writeError(w, http.StatusNotFound, "model_not_found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// retrain handles POST /api/model/retrain.
func (h *ModelHandler) retrain(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Retrain == nil {
		writeError(w, http.StatusServiceUnavailable, "Retraining not configured")
		return
	}

	err := h.cfg.Retrain.Start()
	switch {
	case errors.Is(err, retrain.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
		return
	case errors.Is(err, retrain.ErrNoCommand):
		writeError(w, http.StatusServiceUnavailable, "Retraining not configured")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.cfg.Store != nil {
		if err := h.cfg.Store.Settings().Set(LastRetrainKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
			h.log.Warnw("failed to record retrain start", "error", err)
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type retrainStatusResponse struct {
	retrain.Status
	LastStarted string `json:"last_started,omitempty"`
}

// retrainStatus handles GET /api/model/retrain/status.
func (h *ModelHandler) retrainStatus(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Retrain == nil {
		writeError(w, http.StatusServiceUnavailable, "Retraining not configured")
		return
	}

	resp := retrainStatusResponse{Status: h.cfg.Retrain.Status()}
	if h.cfg.Store != nil {
		if v, err := h.cfg.Store.Settings().Get(LastRetrainKey); err == nil {
			resp.LastStarted = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// download handles GET /api/model/download.
func (h *ModelHandler) download(w http.ResponseWriter, r *http.Request) {
	if h.cfg.ModelPath == "" {
		writeError(w, http.StatusNotFound, "model_not_found")
		return
	}

	f, err := os.Open(h.cfg.ModelPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "model_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to open model")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusInternalServerError, "Failed to open model")
		return
	}

	name := filepath.Base(h.cfg.ModelPath)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}
