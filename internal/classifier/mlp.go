package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Activation names accepted for hidden layers.
const (
	ActivationReLU     = "relu"
	ActivationTanh     = "tanh"
	ActivationLogistic = "logistic"
	ActivationIdentity = "identity"
)

// LayerSpec is one dense layer as stored on disk. Weights has one row per
// input and one column per output.
type LayerSpec struct {
	Weights [][]float64 `json:"weights"`
	Biases  []float64   `json:"biases"`
}

// mlpSpec is the serialized form of an MLP.
type mlpSpec struct {
	Type       string      `json:"type"`
	Activation string      `json:"activation"`
	Layers     []LayerSpec `json:"layers"`
}

type denseLayer struct {
	weights *mat.Dense
	biases  *mat.VecDense
}

// MLP is a feed-forward classifier: dense hidden layers with a shared
// activation, then a softmax output (logistic when there is a single output
// unit, giving a two-class distribution).
type MLP struct {
	spec   mlpSpec
	layers []denseLayer
	act    func(float64) float64
}

// NewMLP validates layer shapes and builds the network.
func NewMLP(activation string, layers []LayerSpec) (*MLP, error) {
	if activation == "" {
		activation = ActivationReLU
	}
	act, err := activationFunc(activation)
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, errors.New("mlp has no layers")
	}

	m := &MLP{
		spec: mlpSpec{Type: modelTypeMLP, Activation: activation, Layers: layers},
		act:  act,
	}

	prevOut := -1
	for i, l := range layers {
		in := len(l.Weights)
		if in == 0 {
			return nil, fmt.Errorf("layer %d has no weights", i)
		}
		out := len(l.Weights[0])
		if out == 0 || len(l.Biases) != out {
			return nil, fmt.Errorf("layer %d has %d outputs but %d biases", i, out, len(l.Biases))
		}
		if prevOut >= 0 && in != prevOut {
			return nil, fmt.Errorf("layer %d expects %d inputs, previous layer produces %d", i, in, prevOut)
		}

		data := make([]float64, 0, in*out)
		for r, row := range l.Weights {
			if len(row) != out {
				return nil, fmt.Errorf("layer %d row %d has %d columns, expected %d", i, r, len(row), out)
			}
			data = append(data, row...)
		}

		m.layers = append(m.layers, denseLayer{
			weights: mat.NewDense(in, out, data),
			biases:  mat.NewVecDense(out, append([]float64(nil), l.Biases...)),
		})
		prevOut = out
	}

	return m, nil
}

// Inputs returns the feature count the network expects.
func (m *MLP) Inputs() int {
	r, _ := m.layers[0].weights.Dims()
	return r
}

// PredictProba runs a forward pass and returns a probability per class.
func (m *MLP) PredictProba(x []float64) ([]float64, error) {
	if len(x) != m.Inputs() {
		return nil, fmt.Errorf("mlp expects %d features, got %d", m.Inputs(), len(x))
	}

	h := mat.NewVecDense(len(x), append([]float64(nil), x...))
	last := len(m.layers) - 1
	for i, l := range m.layers {
		_, out := l.weights.Dims()
		next := mat.NewVecDense(out, nil)
		next.MulVec(l.weights.T(), h)
		next.AddVec(next, l.biases)
		if i < last {
			raw := next.RawVector().Data
			for j := range raw {
				raw[j] = m.act(raw[j])
			}
		}
		h = next
	}

	logits := append([]float64(nil), h.RawVector().Data...)
	if len(logits) == 1 {
		p := logistic(logits[0])
		return []float64{1 - p, p}, nil
	}
	return softmax(logits), nil
}

// MarshalJSON writes the on-disk model form.
func (m *MLP) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.spec)
}

func activationFunc(name string) (func(float64) float64, error) {
	switch name {
	case ActivationReLU:
		return func(v float64) float64 { return math.Max(0, v) }, nil
	case ActivationTanh:
		return math.Tanh, nil
	case ActivationLogistic:
		return logistic, nil
	case ActivationIdentity:
		return func(v float64) float64 { return v }, nil
	}
	return nil, fmt.Errorf("unknown activation %q", name)
}

func logistic(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// softmax converts logits into probabilities in place and returns them.
func softmax(logits []float64) []float64 {
	max := floats.Max(logits)
	for i, v := range logits {
		logits[i] = math.Exp(v - max)
	}
	floats.Scale(1/floats.Sum(logits), logits)
	return logits
}
