package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/retrain"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tray"
)

// trayPollInterval is how often the tray's last sign is refreshed.
const trayPollInterval = 500 * time.Millisecond

var errNoCamera = errors.New("camera unavailable")

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String(flagAddr); addr != "" {
		cfg.Server.Addr = addr
	}
	if c.Bool(flagTray) {
		cfg.Tray = true
	}
	if c.Bool(flagMock) {
		cfg.Detector.Mock = true
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.SugaredLogger

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	det := newDetector(cfg, log)
	a, err := app.New(app.Config{
		Camera:     cfg.Camera,
		ModelPath:  cfg.ModelPath(),
		WatchModel: cfg.Model.Watch,
		Catalog:    cfg.Catalog(),
		Detector:   det,
		Logger:     log.Named("detector"),
	})
	if err != nil {
		// Keep serving; camera endpoints answer 503.
		log.Errorw(errNoCamera.Error(), "device", cfg.Camera.DeviceID, "error", err)
		if det != nil {
			det.Close()
		}
	} else {
		defer a.Release()
	}

	runner := retrain.NewRunner(retrain.Config{
		Command: retrainCommand(cfg, c.String(flagConfig), log),
		Dir:     cfg.DataDir,
		Timeout: cfg.RetrainTimeout(),
		Reload: func() error {
			if a == nil {
				return errNoCamera
			}
			return a.ReloadModel()
		},
		Logger: log.Named("retrain"),
	})

	var source server.Detector
	if a != nil {
		source = a
	}

	webDir := cfg.Server.StaticDir
	if webDir == "" {
		webDir = findWebDir(cfg.DataDir)
	}
	if webDir != "" {
		log.Infow("serving static files", "dir", webDir)
	}

	srv := server.New(server.Config{
		StaticDir:         webDir,
		Store:             st,
		Detector:          source,
		Retrain:           runner,
		ModelPath:         cfg.ModelPath(),
		Samples:           classifier.NewSampleDir(cfg.TrainingDataDir()),
		Catalog:           cfg.Catalog(),
		DownloadPerMinute: cfg.Server.DownloadPerMin,
		Logger:            log.Named("http"),
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Tray {
		return ignoreClosed(srv.ListenAndServe(ctx, cfg.Server.Addr))
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx, cfg.Server.Addr) }()

	t := tray.New()
	t.OnReload(func() {
		if a != nil {
			a.ReloadModel()
		}
	})
	t.OnOpen(func() {
		if err := openBrowser(browserURL(cfg.Server.Addr)); err != nil {
			log.Warnw("failed to open browser", "error", err)
		}
	})
	t.OnQuit(stop)

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	if a != nil {
		go func() {
			ticker := time.NewTicker(trayPollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					d := a.Latest()
					t.SetLastSign(d.Label, d.Confidence)
				}
			}
		}()
	}

	// systray needs the main goroutine.
	t.Run()
	stop()
	return ignoreClosed(<-errc)
}

// newDetector returns the configured landmark detector, falling back to the
// mock when MediaPipe is unavailable.
func newDetector(cfg *config.Config, log *zap.SugaredLogger) detector.Detector {
	if cfg.Detector.Mock {
		log.Infow("using mock landmark detector")
		return detector.NewMockDetector()
	}

	d, err := detector.NewMediaPipeDetector(cfg.Detector.Config, log.Named("mediapipe"))
	if err != nil {
		log.Warnw("mediapipe unavailable, using mock landmark detector", "error", err)
		return detector.NewMockDetector()
	}
	return d
}

// retrainCommand returns the configured training command, or this binary's
// own train command.
func retrainCommand(cfg *config.Config, configPath string, log *zap.SugaredLogger) []string {
	if len(cfg.Retrain.Command) > 0 {
		return cfg.Retrain.Command
	}
	self, err := os.Executable()
	if err != nil {
		log.Warnw("retraining disabled, cannot locate executable", "error", err)
		return nil
	}
	cmd := []string{self}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
		cmd = append(cmd, "--"+flagConfig, configPath)
	}
	return append(cmd, "train", "--"+flagData, cfg.TrainingDataDir(), "--"+flagOut, cfg.ModelPath())
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <data dir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	for _, p := range []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func browserURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
