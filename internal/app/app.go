// Package app ties camera acquisition, landmark detection and sign
// classification together behind one long-lived App.
package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
)

// Config holds the collaborators and settings of an App.
type Config struct {
	// Camera is the device to open and the resolution and rate to apply.
	Camera capture.Settings
	// ModelPath is the classifier bundle file. It may not exist yet.
	ModelPath string
	// WatchModel reloads the bundle whenever ModelPath changes on disk.
	WatchModel bool
	// Catalog maps model outputs to labels. Empty means DefaultCatalog.
	Catalog classifier.Catalog
	// Open opens camera sessions, both initially and during recovery.
	// Defaults to capture.OpenDevice.
	Open capture.OpenFunc
	// Detector extracts hand landmarks. The App takes ownership and closes
	// it on Release. Nil disables detection.
	Detector detector.Detector
	// Acquisition overrides acquisition loop tuning. Settings, Open, Clock
	// and Logger are filled in from this Config.
	Acquisition capture.AcquirerConfig
	// PollInterval is how long a stream waits before looking for a frame
	// again. Defaults to StreamPollInterval.
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *zap.SugaredLogger
}

// App is the sign detector context: one camera, one frame slot, one
// detection state and one active classifier shared by every consumer.
type App struct {
	cfg      Config
	log      *zap.SugaredLogger
	clock    clock.Clock
	catalog  classifier.Catalog
	acquirer *capture.Acquirer
	slot     *capture.FrameSlot
	models   *classifier.Holder
	watcher  *classifier.Watcher
	state    *State
	pipeline *Pipeline
	started  time.Time

	releaseOnce sync.Once
	releaseErr  error
}

// New opens the camera, loads the classifier if one exists and starts the
// acquisition loop. The only error it returns is a failure to open the
// camera; a missing or broken model only disables detection.
func New(cfg Config) (*App, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Open == nil {
		cfg.Open = capture.OpenDevice
	}
	if cfg.Catalog.Len() == 0 {
		cfg.Catalog = classifier.DefaultCatalog()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = StreamPollInterval
	}
	log := cfg.Logger

	cam, err := cfg.Open(cfg.Camera)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", cfg.Camera.DeviceID, err)
	}
	if cam == nil || !cam.IsOpen() {
		if cam != nil {
			if cerr := cam.Close(); cerr != nil {
				log.Warnw("error releasing unopened camera", "error", cerr)
			}
		}
		return nil, fmt.Errorf("open camera %d: %w", cfg.Camera.DeviceID, capture.ErrCameraNotOpen)
	}
	cam.Apply(cfg.Camera)
	log.Infow("camera opened", "device", cfg.Camera.DeviceID, "width", cfg.Camera.Width, "height", cfg.Camera.Height, "fps", cfg.Camera.FPS)

	models := classifier.NewHolder(cfg.ModelPath, log.Named("model"))
	switch err := models.Load(); {
	case err == nil:
		log.Infow("model loaded", "path", cfg.ModelPath, "version", models.Current().Version)
	case errors.Is(err, classifier.ErrModelNotFound):
		log.Warnw("model file not found, detection disabled until reload", "path", cfg.ModelPath)
	default:
		log.Errorw("failed to load model, detection disabled until reload", "path", cfg.ModelPath, "error", err)
	}

	acq := cfg.Acquisition
	acq.Settings = cfg.Camera
	acq.Open = cfg.Open
	acq.Clock = cfg.Clock
	acq.Logger = log.Named("capture")

	a := &App{
		cfg:      cfg,
		log:      log,
		clock:    cfg.Clock,
		catalog:  cfg.Catalog,
		acquirer: capture.NewAcquirer(cam, acq),
		models:   models,
		state:    NewState(HistoryCapacity),
		started:  cfg.Clock.Now(),
	}
	a.slot = a.acquirer.Slot()
	a.pipeline = NewPipeline(cfg.Detector, models, cfg.Catalog, a.state, cfg.Clock, log.Named("pipeline"))

	if cfg.WatchModel && cfg.ModelPath != "" {
		w, err := classifier.NewWatcher(models, classifier.DefaultWatchDelay, log.Named("model"))
		if err != nil {
			log.Warnw("model watcher unavailable", "error", err)
		} else {
			a.watcher = w
		}
	}

	a.acquirer.Start()
	log.Infow("detector started")
	return a, nil
}

// Latest returns the current detection. Translation falls back to the label
// when the catalog has no localized text.
func (a *App) Latest() Detection {
	d := a.pipeline.withTranslation(a.state.Current())
	if !d.None() && d.Translation == "" {
		d.Translation = d.Label
	}
	return d
}

// History returns the accepted detections, oldest first.
func (a *App) History() []Detection {
	return a.state.History()
}

// ClearHistory empties the detection history and current detection.
func (a *App) ClearHistory() {
	a.state.Reset()
}

// CaptureHand detects the hand in the latest frame, mirrored the way streams
// show it. It returns ErrNoFrame before the first frame and ErrNoHand when no
// complete hand is visible.
func (a *App) CaptureHand() (detector.HandLandmarks, error) {
	frame, _, ok := a.slot.Snapshot()
	if !ok {
		return detector.HandLandmarks{}, ErrNoFrame
	}
	defer frame.Close()
	return a.pipeline.Capture(frame)
}

// ReloadModel re-reads the classifier bundle and swaps it in. When the file
// is missing the current bundle stays active and ErrModelNotFound is
// returned.
func (a *App) ReloadModel() error {
	return a.models.Reload()
}

// Model returns the active bundle, or nil.
func (a *App) Model() *classifier.Bundle {
	return a.models.Current()
}

// Catalog returns the label catalog.
func (a *App) Catalog() classifier.Catalog {
	return a.catalog
}

// Pipeline returns the frame pipeline shared by all streams.
func (a *App) Pipeline() *Pipeline {
	return a.pipeline
}

// Running reports whether Stop has not been called.
func (a *App) Running() bool {
	return a.acquirer.Running()
}

// Stop sets the stop flag. The acquisition loop exits after its current
// iteration and streams return after their current frame.
func (a *App) Stop() {
	if a.acquirer.Running() {
		a.log.Infow("stopping detector")
	}
	a.acquirer.Stop()
}

// Release stops the App and frees the camera, the detector and the frame
// slot. It is safe to call more than once.
func (a *App) Release() error {
	a.releaseOnce.Do(func() {
		a.Stop()
		a.acquirer.Wait()

		var err error
		if a.watcher != nil {
			err = multierr.Append(err, a.watcher.Close())
		}
		if cerr := a.acquirer.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close camera: %w", cerr))
		}
		if a.cfg.Detector != nil {
			if derr := a.cfg.Detector.Close(); derr != nil {
				err = multierr.Append(err, fmt.Errorf("close detector: %w", derr))
			}
		}
		a.slot.Close()

		a.releaseErr = err
		a.log.Infow("detector released")
	})
	return a.releaseErr
}
