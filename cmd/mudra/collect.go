package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/logging"
)

// Collection defaults.
const (
	defaultCollectCount    = 500
	defaultCollectInterval = 50 * time.Millisecond
	collectProgressEvery   = 25
)

// handSource yields the hand in the current camera frame.
type handSource interface {
	CaptureHand() (detector.HandLandmarks, error)
}

func collectAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	label := c.String(flagLabel)
	catalog := cfg.Catalog()
	if _, ok := catalog.Index(label); !ok {
		return fmt.Errorf("unknown label %q", label)
	}
	count := c.Int(flagCount)
	if count <= 0 {
		return fmt.Errorf("--%s must be positive, got %d", flagCount, count)
	}
	dataDir := c.String(flagData)
	if dataDir == "" {
		dataDir = cfg.TrainingDataDir()
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.SugaredLogger

	det := newDetector(cfg, log)
	if _, mock := det.(*detector.MockDetector); mock {
		det.Close()
		return errors.New("collecting samples needs the MediaPipe detector")
	}

	a, err := app.New(app.Config{
		Camera:   cfg.Camera,
		Catalog:  catalog,
		Detector: det,
		Logger:   log.Named("detector"),
	})
	if err != nil {
		det.Close()
		return err
	}
	defer a.Release()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := c.App.Writer
	fmt.Fprintf(w, "recording %d samples of %q, hold the sign in front of the camera\n", count, label)
	n, err := collectSamples(ctx, a, classifier.NewSampleDir(dataDir), label, count, c.Duration(flagInterval), w)
	fmt.Fprintf(w, "recorded %d %s samples in %s\n", n, label, dataDir)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// collectSamples records count hands from src as samples of label, one per
// interval at most. Frames without a hand are skipped.
func collectSamples(ctx context.Context, src handSource, dir *classifier.SampleDir, label string, count int, interval time.Duration, w io.Writer) (int, error) {
	if interval <= 0 {
		interval = defaultCollectInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	recorded := 0
	for {
		hand, err := src.CaptureHand()
		switch {
		case errors.Is(err, app.ErrNoFrame), errors.Is(err, app.ErrNoHand):
		case err != nil:
			return recorded, err
		default:
			if _, err := dir.Add(label, hand, time.Now()); err != nil {
				return recorded, err
			}
			recorded++
			if recorded%collectProgressEvery == 0 || recorded == count {
				fmt.Fprintf(w, "%s %d/%d\n", label, recorded, count)
			}
		}
		if recorded >= count {
			return recorded, nil
		}

		select {
		case <-ctx.Done():
			return recorded, ctx.Err()
		case <-ticker.C:
		}
	}
}
