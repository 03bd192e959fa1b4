package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
)

// Stream tuning.
const (
	// Boundary separates parts of the multipart stream.
	Boundary = "frame"
	// ContentType is the stream's HTTP content type.
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
	// StreamQuality is the JPEG quality of streamed frames.
	StreamQuality = 75
	// SnapshotQuality is the JPEG quality of single-frame snapshots.
	SnapshotQuality = 70
	// StreamPollInterval is the wait between checks for a first frame.
	StreamPollInterval = 50 * time.Millisecond
	// StreamWaitLogs caps "waiting" log lines per wait.
	StreamWaitLogs = 50
	// repeatDelay is the wait before looking again when the slot still
	// holds the frame a stream has already sent.
	repeatDelay = 10 * time.Millisecond
	// streamLogInterval is how often a stream reports how many frames it
	// has sent.
	streamLogInterval = 3 * time.Second
)

// ErrNoFrame is returned when no valid frame has been captured yet.
var ErrNoFrame = errors.New("no frame available")

// Chunk wraps one JPEG image as a part of the multipart stream.
func Chunk(jpeg []byte) []byte {
	header := "--" + Boundary + "\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"Content-Length: " + strconv.Itoa(len(jpeg)) + "\r\n\r\n"

	out := make([]byte, 0, len(header)+len(jpeg)+2)
	out = append(out, header...)
	out = append(out, jpeg...)
	return append(out, '\r', '\n')
}

// Stream emits processed frames as multipart chunks until ctx is done, the
// App is stopped, or emit fails. Before the first frame is captured it polls
// indefinitely. Each call is an independent consumer of the shared frame slot
// and detection state.
func (a *App) Stream(ctx context.Context, emit func(chunk []byte) error) error {
	log := a.log.With("stream", uuid.NewString()[:8])
	log.Infow("stream started")

	var (
		waits   int
		sent    uint64
		lastSeq uint64
		lastLog = a.clock.Now()
	)
	for a.Running() {
		if err := ctx.Err(); err != nil {
			log.Infow("stream closed by consumer", "sent", sent)
			return err
		}

		if a.slot.Info().Seq == lastSeq && lastSeq != 0 && a.slot.Valid() {
			if err := a.wait(ctx, repeatDelay); err != nil {
				return err
			}
			continue
		}

		frame, info, ok := a.slot.Snapshot()
		if !ok {
			waits++
			if waits <= StreamWaitLogs {
				log.Infow("waiting for camera frame", "attempt", waits, "max", StreamWaitLogs)
			}
			if err := a.wait(ctx, a.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}
		waits = 0
		lastSeq = info.Seq

		jpeg, err := a.render(frame, StreamQuality)
		if err != nil {
			log.Warnw("failed to encode frame", "error", err)
			continue
		}
		if err := emit(Chunk(jpeg)); err != nil {
			log.Infow("stream write failed", "sent", sent, "error", err)
			return err
		}

		sent++
		if now := a.clock.Now(); now.Sub(lastLog) >= streamLogInterval {
			log.Debugw("stream active", "sent", sent)
			lastLog = now
		}
	}

	log.Infow("stream stopped", "sent", sent)
	return nil
}

// Snapshot processes the latest frame once and returns it as a JPEG.
func (a *App) Snapshot() ([]byte, error) {
	frame, _, ok := a.slot.Snapshot()
	if !ok {
		return nil, ErrNoFrame
	}
	return a.render(frame, SnapshotQuality)
}

// render runs the pipeline on frame, closes it and encodes the result.
func (a *App) render(frame gocv.Mat, quality int) ([]byte, error) {
	defer frame.Close()

	out := a.pipeline.Process(frame)
	defer out.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, out, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func (a *App) wait(ctx context.Context, d time.Duration) error {
	t := a.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Status is a diagnostic view of the App.
type Status struct {
	Running      bool          `json:"running"`
	HasFrame     bool          `json:"has_frame"`
	FrameSeq     uint64        `json:"frame_seq"`
	CapturedAt   *time.Time    `json:"captured_at,omitempty"`
	Acquisition  capture.Stats `json:"acquisition"`
	Pipeline     PipelineStats `json:"pipeline"`
	ModelLoaded  bool          `json:"model_loaded"`
	ModelVersion string        `json:"model_version,omitempty"`
	Detector     bool          `json:"detector"`
	Latest       Detection     `json:"latest"`
	Uptime       time.Duration `json:"uptime_ns"`
}

// Status reports what the App is doing.
func (a *App) Status() Status {
	info := a.slot.Info()
	s := Status{
		Running:     a.Running(),
		HasFrame:    a.slot.Valid(),
		FrameSeq:    info.Seq,
		Acquisition: a.acquirer.Stats(),
		Pipeline:    a.pipeline.Stats(),
		Detector:    a.cfg.Detector != nil,
		Latest:      a.Latest(),
		Uptime:      a.clock.Since(a.started),
	}
	if !info.CapturedAt.IsZero() {
		at := info.CapturedAt
		s.CapturedAt = &at
	}
	if b := a.models.Current(); b != nil {
		s.ModelLoaded = true
		s.ModelVersion = b.Version
	}
	return s
}
