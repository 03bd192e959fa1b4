package classifier

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

// Holder owns the active bundle. Readers take one Current() pointer per
// prediction, so a reload never mixes the scaler of one bundle with the model
// of another.
type Holder struct {
	path   string
	logger *zap.SugaredLogger
	active atomic.Pointer[Bundle]
}

// NewHolder returns a Holder for the bundle at path. Nothing is loaded until
// Load or Reload is called.
func NewHolder(path string, logger *zap.SugaredLogger) *Holder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Holder{path: path, logger: logger}
}

// Path returns the model file path.
func (h *Holder) Path() string {
	return h.path
}

// Current returns the active bundle, or nil when none is loaded.
func (h *Holder) Current() *Bundle {
	return h.active.Load()
}

// Swap installs b and returns the previous bundle.
func (h *Holder) Swap(b *Bundle) *Bundle {
	return h.active.Swap(b)
}

// Load reads the model file and installs it.
func (h *Holder) Load() error {
	b, err := Load(h.path)
	if err != nil {
		return err
	}
	h.active.Store(b)
	return nil
}

// Reload replaces the active bundle with the current contents of the model
// file. A missing file leaves everything as it was and returns
// ErrModelNotFound. A malformed file keeps the previous bundle active.
func (h *Holder) Reload() error {
	b, err := Load(h.path)
	if errors.Is(err, ErrModelNotFound) {
		h.logger.Warnw("model file not found, keeping current model", "path", h.path)
		return err
	}
	if err != nil {
		h.logger.Errorw("failed to reload model", "path", h.path, "error", err)
		return err
	}

	prev := h.active.Swap(b)
	fields := []any{"path", h.path, "version", b.Version}
	if prev != nil {
		fields = append(fields, "previous", prev.Version)
	}
	h.logger.Infow("model reloaded", fields...)
	return nil
}
