// Package classifier turns landmark vectors into sign predictions and manages
// the active model so it can be replaced while frames are being classified.
package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	modelTypeMLP      = "mlp"
	modelTypeCentroid = "centroid"
)

// ErrModelNotFound is returned when the model file does not exist.
var ErrModelNotFound = errors.New("model file not found")

// Predictor maps a feature vector to a probability per class index.
type Predictor interface {
	PredictProba(x []float64) ([]float64, error)
}

// Scaler transforms a raw feature vector before prediction.
type Scaler interface {
	Transform(x []float64) ([]float64, error)
}

// Bundle is a model and the scaler it was trained with. A Bundle is immutable
// once built, so readers holding a pointer to it never see a mix of two
// models.
type Bundle struct {
	Model    Predictor
	Scaler   Scaler
	Version  string
	Path     string
	LoadedAt time.Time
}

// Predict scales x and runs the model, returning the most likely class index
// and its probability.
func (b *Bundle) Predict(x []float64) (index int, confidence float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			index, confidence = -1, 0
			err = fmt.Errorf("predictor panicked: %v", r)
		}
	}()

	if b == nil || b.Model == nil {
		return -1, 0, errors.New("bundle has no model")
	}

	features := x
	if b.Scaler != nil {
		features, err = b.Scaler.Transform(x)
		if err != nil {
			return -1, 0, fmt.Errorf("scale features: %w", err)
		}
	}

	proba, err := b.Model.PredictProba(features)
	if err != nil {
		return -1, 0, fmt.Errorf("predict: %w", err)
	}
	if len(proba) == 0 {
		return -1, 0, errors.New("predictor returned no probabilities")
	}

	best := 0
	for i, p := range proba {
		if p > proba[best] {
			best = i
		}
	}
	return best, proba[best], nil
}

// bundleFile is the on-disk wrapper form.
type bundleFile struct {
	Version string          `json:"version,omitempty"`
	Scaler  *StandardScaler `json:"scaler"`
	Model   json.RawMessage `json:"model"`
}

// Load reads a bundle from path. A file holding only a model object is
// accepted as a bundle without a scaler.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("read model: %w", err)
	}

	b, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode model %s: %w", filepath.Base(path), err)
	}
	b.Path = path
	return b, nil
}

// Decode parses bundle JSON. When the file carries no version, a content hash
// is used.
func Decode(data []byte) (*Bundle, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	var f bundleFile
	if _, wrapped := fields["model"]; wrapped {
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
	} else {
		f.Model = data
	}

	model, err := decodeModel(f.Model)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Model:    model,
		Version:  f.Version,
		LoadedAt: time.Now(),
	}
	if f.Scaler != nil {
		if err := f.Scaler.validate(); err != nil {
			return nil, err
		}
		b.Scaler = f.Scaler
	}
	if b.Version == "" {
		b.Version = strconv.FormatUint(xxhash.Sum64(data), 16)
	}
	return b, nil
}

func decodeModel(raw json.RawMessage) (Predictor, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, errors.New("bundle has no model")
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case modelTypeMLP:
		var spec mlpSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, err
		}
		return NewMLP(spec.Activation, spec.Layers)
	case modelTypeCentroid:
		var spec struct {
			Temperature float64         `json:"temperature"`
			Classes     []CentroidClass `json:"classes"`
		}
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, err
		}
		return NewCentroid(spec.Temperature, spec.Classes)
	}
	return nil, fmt.Errorf("unknown model type %q", head.Type)
}

// Save writes a bundle to path atomically. Only StandardScaler and the
// built-in models can be serialized.
func Save(path string, b *Bundle) error {
	f := struct {
		Version string          `json:"version,omitempty"`
		Scaler  *StandardScaler `json:"scaler"`
		Model   Predictor       `json:"model"`
	}{Version: b.Version, Model: b.Model}

	switch s := b.Scaler.(type) {
	case nil:
	case *StandardScaler:
		f.Scaler = s
	default:
		return fmt.Errorf("cannot serialize scaler %T", b.Scaler)
	}
	switch b.Model.(type) {
	case *MLP, *Centroid:
	default:
		return fmt.Errorf("cannot serialize model %T", b.Model)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close bundle: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
