package app

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
)

// scriptedModel returns its outputs in order, repeating the last one.
type scriptedModel struct {
	mu      sync.Mutex
	outputs [][]float64
	err     error
	calls   int
}

func (m *scriptedModel) PredictProba(x []float64) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	i := m.calls - 1
	if i >= len(m.outputs) {
		i = len(m.outputs) - 1
	}
	return m.outputs[i], nil
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// probaFor puts conf on label and spreads the rest evenly over the catalog.
func probaFor(t *testing.T, label string, conf float64) []float64 {
	t.Helper()
	c := classifier.DefaultCatalog()
	idx, ok := c.Index(label)
	require.True(t, ok, label)

	p := make([]float64, c.Len())
	rest := (1 - conf) / float64(c.Len()-1)
	for i := range p {
		p[i] = rest
	}
	p[idx] = conf
	return p
}

type pipelineFixture struct {
	pipeline *Pipeline
	state    *State
	det      *detector.MockDetector
	model    *scriptedModel
	clock    *clock.Mock
	frame    gocv.Mat
}

func newPipelineFixture(t *testing.T, outputs ...[]float64) *pipelineFixture {
	t.Helper()

	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks()})

	model := &scriptedModel{outputs: outputs}
	holder := classifier.NewHolder("", nil)
	holder.Swap(&classifier.Bundle{Model: model, Version: "test"})

	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))

	state := NewState(HistoryCapacity)
	frame := gocv.NewMatWithSize(360, 480, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { frame.Close() })

	return &pipelineFixture{
		pipeline: NewPipeline(det, holder, classifier.DefaultCatalog(), state, clk, nil),
		state:    state,
		det:      det,
		model:    model,
		clock:    clk,
		frame:    frame,
	}
}

func (f *pipelineFixture) process(t *testing.T) {
	t.Helper()
	out := f.pipeline.Process(f.frame)
	defer out.Close()
	require.False(t, out.Empty())
	assert.Equal(t, f.frame.Rows(), out.Rows())
	assert.Equal(t, f.frame.Cols(), out.Cols())
}

// cycle runs one full sampling period, ending on a sampling frame.
func (f *pipelineFixture) cycle(t *testing.T) {
	t.Helper()
	for i := 0; i < SamplePeriod; i++ {
		f.process(t)
	}
}

func TestPipeline_SamplingCadence(t *testing.T) {
	f := newPipelineFixture(t, probaFor(t, "yes", 0.9))

	for n := 1; n <= 7; n++ {
		f.process(t)
		assert.Equal(t, n/SamplePeriod, f.det.Calls(), "after frame %d", n)
	}

	stats := f.pipeline.Stats()
	assert.Equal(t, uint64(7), stats.Frames)
	assert.Equal(t, uint64(3), stats.Inferences)
	assert.Equal(t, 3, f.model.Calls())
}

func TestPipeline_ImmediateClear(t *testing.T) {
	f := newPipelineFixture(t, probaFor(t, "yes", 0.9), probaFor(t, "yes", 0.3))

	f.cycle(t)
	assert.Equal(t, "yes", f.state.Current().Label)

	f.cycle(t)
	cur := f.state.Current()
	assert.True(t, cur.None())
	assert.Zero(t, cur.Confidence)
	assert.True(t, cur.Timestamp.IsZero())
	assert.Equal(t, []string{"yes"}, labels(f.state.History()))
}

func TestPipeline_SkippedCycleKeepsState(t *testing.T) {
	f := newPipelineFixture(t, probaFor(t, "yes", 0.9), probaFor(t, "yes", 0.1))

	f.cycle(t)
	// A non-sampling frame leaves the accepted state alone.
	f.process(t)
	assert.Equal(t, "yes", f.state.Current().Label)
}

func TestPipeline_ThresholdIsInclusive(t *testing.T) {
	f := newPipelineFixture(t, probaFor(t, "no", AcceptConfidence))

	f.cycle(t)
	assert.Equal(t, "no", f.state.Current().Label)
}

func TestPipeline_NoHandClears(t *testing.T) {
	f := newPipelineFixture(t, probaFor(t, "yes", 0.9))
	f.cycle(t)
	require.Equal(t, "yes", f.state.Current().Label)

	f.det.SetHands(nil)
	f.cycle(t)
	assert.True(t, f.state.Current().None())
	assert.Equal(t, 1, f.model.Calls())
}

func TestPipeline_RejectsWrongVectorLength(t *testing.T) {
	f := newPipelineFixture(t, probaFor(t, "yes", 0.9))

	partial := detector.HandLandmarks{Points: make([]detector.Point3D, detector.NumLandmarks-1)}
	f.det.SetHands([]detector.HandLandmarks{partial})

	f.cycle(t)
	assert.True(t, f.state.Current().None())
	assert.Zero(t, f.model.Calls())
	assert.Zero(t, f.pipeline.Stats().Errors)
}

func TestPipeline_UsesFirstHandOnly(t *testing.T) {
	f := newPipelineFixture(t, probaFor(t, "yes", 0.9))

	partial := detector.HandLandmarks{Points: make([]detector.Point3D, 3)}
	f.det.SetHands([]detector.HandLandmarks{partial, detector.OpenPalmLandmarks()})

	f.cycle(t)
	assert.True(t, f.state.Current().None())
	assert.Zero(t, f.model.Calls())
}

func TestPipeline_FailuresDegradeToNoDetection(t *testing.T) {
	t.Run("detector error", func(t *testing.T) {
		f := newPipelineFixture(t, probaFor(t, "yes", 0.9))
		f.det.SetError(errors.New("subprocess died"))

		f.cycle(t)
		assert.True(t, f.state.Current().None())
		assert.Equal(t, uint64(1), f.pipeline.Stats().Errors)
	})

	t.Run("prediction error", func(t *testing.T) {
		f := newPipelineFixture(t, probaFor(t, "yes", 0.9))
		f.cycle(t)
		f.model.mu.Lock()
		f.model.err = errors.New("shape mismatch")
		f.model.mu.Unlock()

		f.cycle(t)
		assert.True(t, f.state.Current().None())
		assert.Equal(t, uint64(1), f.pipeline.Stats().Errors)
	})

	t.Run("index outside catalog", func(t *testing.T) {
		p := make([]float64, classifier.DefaultCatalog().Len()+1)
		p[len(p)-1] = 1
		f := newPipelineFixture(t, p)

		f.cycle(t)
		assert.True(t, f.state.Current().None())
		assert.Equal(t, uint64(1), f.pipeline.Stats().Errors)
	})

	t.Run("no model loaded", func(t *testing.T) {
		f := newPipelineFixture(t, probaFor(t, "yes", 0.9))
		f.pipeline.models.Swap(nil)

		f.cycle(t)
		assert.True(t, f.state.Current().None())
		assert.Equal(t, 1, f.det.Calls())
	})
}

func TestPipeline_YesThenNo(t *testing.T) {
	f := newPipelineFixture(t,
		probaFor(t, "yes", 0.95),
		probaFor(t, "yes", 0.95),
		probaFor(t, "yes", 0.95),
		probaFor(t, "no", 0.99),
	)

	start := f.clock.Now()
	f.cycle(t)
	cur := f.state.Current()
	assert.Equal(t, "yes", cur.Label)
	assert.InDelta(t, 0.95, cur.Confidence, 1e-9)
	assert.Equal(t, start, cur.Timestamp)

	for i := 0; i < 2; i++ {
		f.clock.Add(100 * time.Millisecond)
		f.cycle(t)
		assert.Equal(t, "yes", f.state.Current().Label)
		assert.Equal(t, f.clock.Now(), f.state.Current().Timestamp)
		assert.Equal(t, []string{"yes"}, labels(f.state.History()))
	}

	f.clock.Add(100 * time.Millisecond)
	f.cycle(t)
	cur = f.state.Current()
	assert.Equal(t, "no", cur.Label)
	assert.InDelta(t, 0.99, cur.Confidence, 1e-9)
	assert.Equal(t, []string{"yes", "no"}, labels(f.state.History()))
}

func TestPipeline_ConcurrentConsumers(t *testing.T) {
	f := newPipelineFixture(t, probaFor(t, "yes", 0.9))

	const consumers, frames = 4, 25
	var wg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < frames; i++ {
				out := f.pipeline.Process(f.frame)
				out.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, consumers*frames/SamplePeriod, f.det.Calls())
	assert.Equal(t, []string{"yes"}, labels(f.state.History()))
}

func TestPipeline_Capture(t *testing.T) {
	f := newPipelineFixture(t, probaFor(t, "yes", 0.9))

	hand, err := f.pipeline.Capture(f.frame)
	require.NoError(t, err)
	want := detector.OpenPalmLandmarks()
	assert.Equal(t, want.Vector(), hand.Vector())

	// Capturing leaves the sampling cycle and the state alone.
	assert.Zero(t, f.pipeline.Stats().Frames)
	assert.Zero(t, f.model.Calls())
	assert.True(t, f.state.Current().None())

	f.det.SetHands(nil)
	_, err = f.pipeline.Capture(f.frame)
	assert.ErrorIs(t, err, ErrNoHand)

	f.det.SetError(errors.New("subprocess died"))
	_, err = f.pipeline.Capture(f.frame)
	assert.ErrorContains(t, err, "subprocess died")

	none := NewPipeline(nil, f.pipeline.models, classifier.DefaultCatalog(), f.state, f.clock, nil)
	_, err = none.Capture(f.frame)
	assert.ErrorIs(t, err, ErrNoDetector)
}
