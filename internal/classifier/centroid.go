package classifier

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// CentroidClass is the mean feature vector of one class.
type CentroidClass struct {
	Index    int       `json:"index"`
	Centroid []float64 `json:"centroid"`
}

// Centroid classifies by Euclidean distance to per-class centroids. The
// distribution is a softmax over negative distances divided by Temperature.
type Centroid struct {
	Temperature float64         `json:"temperature"`
	Classes     []CentroidClass `json:"classes"`

	width int
}

// NewCentroid validates classes and returns the model.
func NewCentroid(temperature float64, classes []CentroidClass) (*Centroid, error) {
	if len(classes) == 0 {
		return nil, errors.New("centroid model has no classes")
	}
	if temperature <= 0 {
		temperature = 1
	}

	width := len(classes[0].Centroid)
	seen := make(map[int]bool, len(classes))
	for _, c := range classes {
		if c.Index < 0 {
			return nil, fmt.Errorf("class index %d is negative", c.Index)
		}
		if seen[c.Index] {
			return nil, fmt.Errorf("class index %d appears twice", c.Index)
		}
		seen[c.Index] = true
		if len(c.Centroid) == 0 || len(c.Centroid) != width {
			return nil, fmt.Errorf("class %d centroid has %d features, expected %d", c.Index, len(c.Centroid), width)
		}
	}

	return &Centroid{Temperature: temperature, Classes: classes, width: width}, nil
}

// PredictProba returns a probability per class index. Indexes with no
// centroid get zero.
func (m *Centroid) PredictProba(x []float64) ([]float64, error) {
	if len(x) != m.width {
		return nil, fmt.Errorf("centroid model expects %d features, got %d", m.width, len(x))
	}

	size := 0
	logits := make([]float64, len(m.Classes))
	for i, c := range m.Classes {
		logits[i] = -floats.Distance(x, c.Centroid, 2) / m.Temperature
		if c.Index+1 > size {
			size = c.Index + 1
		}
	}
	softmax(logits)

	proba := make([]float64, size)
	for i, c := range m.Classes {
		proba[c.Index] = logits[i]
	}
	return proba, nil
}

// MarshalJSON writes the on-disk model form.
func (m *Centroid) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string          `json:"type"`
		Temperature float64         `json:"temperature"`
		Classes     []CentroidClass `json:"classes"`
	}{modelTypeCentroid, m.Temperature, m.Classes})
}
