package classifier

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// genScaler stamps its generation into the features so genModel can tell
// whether it was paired with the scaler it belongs to.
type genScaler struct{ gen float64 }

func (s genScaler) Transform(x []float64) ([]float64, error) {
	out := append([]float64{s.gen}, x...)
	return out, nil
}

type genModel struct{ gen float64 }

func (m genModel) PredictProba(x []float64) ([]float64, error) {
	if x[0] != m.gen {
		return nil, fmt.Errorf("scaler generation %v paired with model generation %v", x[0], m.gen)
	}
	return []float64{0.1, 0.9}, nil
}

func genBundle(gen int) *Bundle {
	return &Bundle{
		Model:   genModel{gen: float64(gen)},
		Scaler:  genScaler{gen: float64(gen)},
		Version: fmt.Sprint(gen),
	}
}

func TestHolderSwapNeverMixesBundles(t *testing.T) {
	h := NewHolder("unused.json", nil)
	h.Swap(genBundle(0))

	var (
		wg       sync.WaitGroup
		stop     atomic.Bool
		mismatch atomic.Int64
		reads    atomic.Int64
	)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				if _, _, err := h.Current().Predict([]float64{1, 2}); err != nil {
					mismatch.Add(1)
				}
				reads.Add(1)
			}
		}()
	}

	for gen := 1; gen <= 2000; gen++ {
		h.Swap(genBundle(gen))
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, mismatch.Load())
	assert.Positive(t, reads.Load())
	assert.Equal(t, "2000", h.Current().Version)
}

func TestHolderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")

	core, logs := observer.New(zap.DebugLevel)
	h := NewHolder(path, zap.New(core).Sugar())

	t.Run("missing file is a logged no-op", func(t *testing.T) {
		prev := genBundle(7)
		h.Swap(prev)

		err := h.Reload()
		assert.ErrorIs(t, err, ErrModelNotFound)
		assert.Same(t, prev, h.Current())
		assert.Equal(t, 1, logs.FilterMessage("model file not found, keeping current model").Len())
	})

	t.Run("valid file replaces bundle", func(t *testing.T) {
		writeFile(t, path, wrappedBundle)
		require.NoError(t, h.Reload())
		assert.Equal(t, "v1", h.Current().Version)
		assert.Equal(t, 1, logs.FilterMessage("model reloaded").Len())
	})

	t.Run("malformed file keeps previous bundle", func(t *testing.T) {
		prev := h.Current()
		writeFile(t, path, `{"model": null}`)
		assert.Error(t, h.Reload())
		assert.Same(t, prev, h.Current())
		assert.Equal(t, 1, logs.FilterMessage("failed to reload model").Len())
	})
}

func TestHolderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	h := NewHolder(path, nil)

	assert.ErrorIs(t, h.Load(), ErrModelNotFound)
	assert.Nil(t, h.Current())

	writeFile(t, path, bareBundle)
	require.NoError(t, h.Load())
	assert.NotNil(t, h.Current())
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	writeFile(t, path, bareBundle)

	h := NewHolder(path, nil)
	require.NoError(t, h.Load())
	first := h.Current().Version

	w, err := NewWatcher(h, 20*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	// Unrelated files in the directory are ignored.
	writeFile(t, filepath.Join(dir, "other.json"), "{}")

	tmp := filepath.Join(dir, "model.json.tmp")
	writeFile(t, tmp, wrappedBundle)
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		b := h.Current()
		return b != nil && b.Version != first && b.Version == "v1"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
