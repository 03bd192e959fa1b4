package classifier

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler standardizes features by removing the mean and scaling to
// unit variance. Zero-variance features are left unscaled.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform returns a standardized copy of x.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) || len(x) != len(s.Scale) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out, nil
}

func (s *StandardScaler) validate() error {
	if len(s.Mean) == 0 {
		return errors.New("scaler has no features")
	}
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler mean has %d features, scale has %d", len(s.Mean), len(s.Scale))
	}
	return nil
}

// FitStandardScaler computes per-feature mean and population standard
// deviation over rows. All rows must have the same length.
func FitStandardScaler(rows [][]float64) (*StandardScaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows to fit")
	}
	n := len(rows[0])
	for i, r := range rows {
		if len(r) != n {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(r), n)
		}
	}

	s := &StandardScaler{
		Mean:  make([]float64, n),
		Scale: make([]float64, n),
	}
	column := make([]float64, len(rows))
	for j := 0; j < n; j++ {
		for i, r := range rows {
			column[i] = r[j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		s.Mean[j] = mean
		if std < 1e-12 {
			std = 1
		}
		s.Scale[j] = std
	}
	return s, nil
}
