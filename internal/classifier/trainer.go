package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/ayusman/mudra/internal/detector"
)

const (
	// DefaultTemperature is the softmax temperature of trained centroid
	// models, in standardized feature units.
	DefaultTemperature = 2.0
	// DefaultHoldOut is the share of each label's samples kept out of
	// fitting and used to measure accuracy.
	DefaultHoldOut = 0.2
	// DefaultSeed makes the held-out split repeatable.
	DefaultSeed = 42
)

// Sample is one recorded hand pose. Sample files hold either a bare array of
// detector.VectorSize floats or an object with a landmarks array.
type Sample struct {
	Landmarks []detector.Point3D `json:"landmarks"`
	Timestamp int64              `json:"timestamp,omitempty"`
}

// TrainReport summarizes a training run.
type TrainReport struct {
	Samples map[string]int
	Skipped []string
	// Tested is the number of held-out samples. Accuracy is the share of
	// them the trained model labels correctly, and is only meaningful when
	// Tested is positive.
	Tested   int
	Accuracy float64
	Took     time.Duration
}

// Trainer builds a centroid bundle from recorded samples laid out as
// <data>/<label>/*.json.
type Trainer struct {
	Catalog     Catalog
	Temperature float64
	// HoldOut is the share of each label's samples used for evaluation
	// instead of fitting. Labels with fewer than 1/HoldOut samples are
	// fitted on all of them.
	HoldOut float64
	Seed    int64
	Logger  *zap.SugaredLogger
}

// NewTrainer creates a Trainer for the given catalog.
func NewTrainer(catalog Catalog, logger *zap.SugaredLogger) *Trainer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Trainer{
		Catalog:     catalog,
		Temperature: DefaultTemperature,
		HoldOut:     DefaultHoldOut,
		Seed:        DefaultSeed,
		Logger:      logger,
	}
}

// Train loads samples for every catalog label found under dataDir, holds out
// a stratified share of them, fits a scaler plus centroid model on the rest
// and reports accuracy on the held-out samples. Labels without samples get no
// centroid.
func (t *Trainer) Train(dataDir string) (*Bundle, TrainReport, error) {
	start := time.Now()
	report := TrainReport{Samples: make(map[string]int)}
	rng := rand.New(rand.NewSource(t.Seed))

	var (
		rows, testRows       [][]float64
		classes, testClasses []int
	)
	for i, label := range t.Catalog.Labels() {
		vectors, skipped, err := loadSamples(filepath.Join(dataDir, label))
		if err != nil {
			return nil, report, fmt.Errorf("load samples for %q: %w", label, err)
		}
		report.Skipped = append(report.Skipped, skipped...)
		if len(vectors) == 0 {
			continue
		}
		report.Samples[label] = len(vectors)

		rng.Shuffle(len(vectors), func(a, b int) { vectors[a], vectors[b] = vectors[b], vectors[a] })
		held := int(float64(len(vectors)) * t.HoldOut)
		for j, v := range vectors {
			if j < held {
				testRows = append(testRows, v)
				testClasses = append(testClasses, i)
				continue
			}
			rows = append(rows, v)
			classes = append(classes, i)
		}
	}
	if len(rows) == 0 {
		return nil, report, fmt.Errorf("no samples found in %s", dataDir)
	}
	for _, s := range report.Skipped {
		t.Logger.Warnw("skipping sample", "file", s)
	}

	scaler, err := FitStandardScaler(rows)
	if err != nil {
		return nil, report, err
	}

	sums := make(map[int][]float64)
	counts := make(map[int]float64)
	for r, row := range rows {
		scaled, err := scaler.Transform(row)
		if err != nil {
			return nil, report, err
		}
		c := classes[r]
		if sums[c] == nil {
			sums[c] = make([]float64, len(scaled))
		}
		floats.Add(sums[c], scaled)
		counts[c]++
	}

	indexes := make([]int, 0, len(sums))
	for c := range sums {
		indexes = append(indexes, c)
	}
	sort.Ints(indexes)

	centroids := make([]CentroidClass, 0, len(indexes))
	for _, c := range indexes {
		floats.Scale(1/counts[c], sums[c])
		centroids = append(centroids, CentroidClass{Index: c, Centroid: sums[c]})
	}

	model, err := NewCentroid(t.Temperature, centroids)
	if err != nil {
		return nil, report, err
	}

	bundle := &Bundle{
		Model:    model,
		Scaler:   scaler,
		Version:  start.UTC().Format("20060102T150405Z"),
		LoadedAt: start,
	}

	correct := 0
	for r, row := range testRows {
		idx, _, err := bundle.Predict(row)
		if err != nil {
			return nil, report, fmt.Errorf("evaluate: %w", err)
		}
		if idx == testClasses[r] {
			correct++
		}
	}
	report.Tested = len(testRows)
	if report.Tested > 0 {
		report.Accuracy = float64(correct) / float64(report.Tested)
	}

	report.Took = time.Since(start)
	t.Logger.Infow("trained centroid model",
		"classes", len(centroids),
		"samples", len(rows),
		"tested", report.Tested,
		"accuracy", report.Accuracy,
		"took", report.Took,
	)

	return bundle, report, nil
}

// TrainFile trains from dataDir and saves the bundle to out.
func (t *Trainer) TrainFile(dataDir, out string) (TrainReport, error) {
	b, report, err := t.Train(dataDir)
	if err != nil {
		return report, err
	}
	if err := Save(out, b); err != nil {
		return report, fmt.Errorf("save bundle: %w", err)
	}
	return report, nil
}

// loadSamples reads every *.json vector in dir. A missing directory yields no
// samples. Files that do not decode to a full vector are reported as skipped.
func loadSamples(dir string) ([][]float64, []string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(files)

	var (
		vectors [][]float64
		skipped []string
	)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, nil, err
		}
		v, err := decodeSample(data)
		if err != nil {
			skipped = append(skipped, f)
			continue
		}
		vectors = append(vectors, v)
	}
	return vectors, skipped, nil
}

func decodeSample(data []byte) ([]float64, error) {
	var flat []float64
	if err := json.Unmarshal(data, &flat); err == nil {
		if len(flat) != detector.VectorSize {
			return nil, fmt.Errorf("sample has %d values, expected %d", len(flat), detector.VectorSize)
		}
		return flat, nil
	}

	var s Sample
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	hand := detector.HandLandmarks{Points: s.Landmarks}
	if !hand.Valid() {
		return nil, fmt.Errorf("sample has %d landmarks, expected %d", len(s.Landmarks), detector.NumLandmarks)
	}
	return hand.Vector(), nil
}
