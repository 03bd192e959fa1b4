package app

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
)

// Pipeline tuning.
const (
	// SamplePeriod is the number of processed frames per landmark extraction
	// and classification pass. Display runs on every frame.
	SamplePeriod = 2
	// AcceptConfidence is the minimum classifier probability for a detection
	// to be accepted.
	AcceptConfidence = 0.6
	// DetectWidth and DetectHeight are the size of the image handed to the
	// landmark detector.
	DetectWidth  = 240
	DetectHeight = 180
)

var (
	// ErrNoDetector is returned by Capture when no landmark detector is
	// configured.
	ErrNoDetector = errors.New("no landmark detector")
	// ErrNoHand is returned by Capture when the frame shows no complete hand.
	ErrNoHand = errors.New("no hand detected")
)

// PipelineStats counts pipeline activity since start.
type PipelineStats struct {
	Frames     uint64 `json:"frames"`
	Inferences uint64 `json:"inferences"`
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	Errors     uint64 `json:"errors"`
}

// Pipeline annotates frames for display and, on every SamplePeriod-th frame,
// detects a hand, classifies it and updates the shared State.
//
// One Pipeline is shared by all stream consumers. The sampling counter is
// global, so concurrent consumers split the sampling cycles between them.
type Pipeline struct {
	detector detector.Detector
	models   *classifier.Holder
	catalog  classifier.Catalog
	state    *State
	clock    clock.Clock
	log      *zap.SugaredLogger

	cycles     atomic.Uint64
	inferences atomic.Uint64
	accepted   atomic.Uint64
	rejected   atomic.Uint64
	errors     atomic.Uint64
}

// NewPipeline wires a Pipeline. det may be nil, in which case no detection is
// ever made.
func NewPipeline(det detector.Detector, models *classifier.Holder, catalog classifier.Catalog, state *State, clk clock.Clock, logger *zap.SugaredLogger) *Pipeline {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{
		detector: det,
		models:   models,
		catalog:  catalog,
		state:    state,
		clock:    clk,
		log:      logger,
	}
}

// Process returns a mirrored, annotated copy of frame. frame is not modified
// and remains owned by the caller; the returned Mat must be closed by the
// caller.
func (p *Pipeline) Process(frame gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	gocv.Flip(frame, &out, 1)

	sample := p.cycles.Add(1)%SamplePeriod == 0

	var small gocv.Mat
	if sample {
		small = gocv.NewMat()
		defer small.Close()
		gocv.Resize(out, &small, image.Pt(DetectWidth, DetectHeight), 0, 0, gocv.InterpolationLinear)
	}

	drawOverlay(&out, p.withTranslation(p.state.Current()))

	if !sample {
		return out
	}

	p.inferences.Add(1)
	label, confidence, ok := p.classify(&small, &out)
	if ok && confidence >= AcceptConfidence {
		p.accepted.Add(1)
		if p.state.Accept(label, confidence, p.clock.Now()) {
			p.log.Infow("sign detected", "sign", label, "confidence", confidence)
		}
		return out
	}

	p.rejected.Add(1)
	p.state.Clear()
	return out
}

// classify runs landmark detection on small and classification on the first
// hand found. Landmarks are drawn on display. ok is false when there is
// nothing to classify or classification failed.
func (p *Pipeline) classify(small, display *gocv.Mat) (label string, confidence float64, ok bool) {
	if p.detector == nil {
		return "", 0, false
	}

	hands, err := p.detector.Detect(small)
	if err != nil {
		p.errors.Add(1)
		p.log.Debugw("hand detection failed", "error", err)
		return "", 0, false
	}
	if len(hands) == 0 {
		return "", 0, false
	}

	hand := hands[0]
	detector.DrawHand(display, hand)

	vector := hand.Vector()
	if len(vector) != detector.VectorSize {
		return "", 0, false
	}

	bundle := p.models.Current()
	if bundle == nil {
		return "", 0, false
	}

	index, confidence, err := bundle.Predict(vector)
	if err != nil {
		p.errors.Add(1)
		p.log.Warnw("prediction failed", "error", err, "model", bundle.Version)
		return "", 0, false
	}

	label, found := p.catalog.Label(index)
	if !found {
		p.errors.Add(1)
		p.log.Warnw("prediction failed", "error", fmt.Errorf("class index %d not in catalog", index), "model", bundle.Version)
		return "", 0, false
	}
	return label, confidence, true
}

// Capture runs landmark detection on frame outside the sampling cycle and
// returns the first hand. It neither classifies nor touches the State.
// frame stays owned by the caller.
func (p *Pipeline) Capture(frame gocv.Mat) (detector.HandLandmarks, error) {
	if p.detector == nil {
		return detector.HandLandmarks{}, ErrNoDetector
	}

	mirrored := gocv.NewMat()
	defer mirrored.Close()
	gocv.Flip(frame, &mirrored, 1)

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(mirrored, &small, image.Pt(DetectWidth, DetectHeight), 0, 0, gocv.InterpolationLinear)

	hands, err := p.detector.Detect(&small)
	if err != nil {
		return detector.HandLandmarks{}, fmt.Errorf("detect hand: %w", err)
	}
	if len(hands) == 0 || !hands[0].Valid() {
		return detector.HandLandmarks{}, ErrNoHand
	}
	return hands[0], nil
}

func (p *Pipeline) withTranslation(d Detection) Detection {
	if d.None() {
		return d
	}
	if t, ok := p.catalog.Translate(d.Label); ok {
		d.Translation = t
	}
	return d
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Frames:     p.cycles.Load(),
		Inferences: p.inferences.Load(),
		Accepted:   p.accepted.Load(),
		Rejected:   p.rejected.Load(),
		Errors:     p.errors.Load(),
	}
}
