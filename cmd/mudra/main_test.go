package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/retrain"
)

func writeVector(t *testing.T, dir, label, name string, v []float64) {
	t.Helper()
	d := filepath.Join(dir, label)
	require.NoError(t, os.MkdirAll(d, 0o755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(d, name), data, 0o644))
}

func TestTrainCommand(t *testing.T) {
	data := t.TempDir()
	palm := detector.OpenPalmLandmarks()
	thumbs := detector.ThumbsUpLandmarks()
	writeVector(t, data, "yes", "1.json", palm.Vector())
	writeVector(t, data, "no", "1.json", thumbs.Vector())

	out := filepath.Join(t.TempDir(), "model.json")

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	require.NoError(t, app.Run([]string{"mudra", "train", "--data", data, "--out", out}))

	assert.Contains(t, buf.String(), "yes        1 samples")
	assert.Contains(t, buf.String(), "no         1 samples")
	assert.Contains(t, buf.String(), "accuracy not measured")
	assert.Contains(t, buf.String(), "wrote "+out)

	b, err := classifier.Load(out)
	require.NoError(t, err)

	idx, _, err := b.Predict(palm.Vector())
	require.NoError(t, err)
	label, _ := classifier.DefaultCatalog().Label(idx)
	assert.Equal(t, "yes", label)
}

func TestTrainCommand_NoSamples(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"mudra", "train", "--data", t.TempDir(), "--out", filepath.Join(t.TempDir(), "m.json")})
	assert.ErrorContains(t, err, "no samples found")
}

// sequenceHands returns its results in order, then the last one forever.
type sequenceHands struct {
	hands []detector.HandLandmarks
	errs  []error
	calls int
}

func (s *sequenceHands) CaptureHand() (detector.HandLandmarks, error) {
	i := s.calls
	if i >= len(s.hands) {
		i = len(s.hands) - 1
	}
	s.calls++
	return s.hands[i], s.errs[i]
}

func handsEvery(hand detector.HandLandmarks, n int) *sequenceHands {
	s := &sequenceHands{}
	for i := 0; i < n; i++ {
		// Every other frame shows no hand.
		s.hands = append(s.hands, detector.HandLandmarks{}, hand)
		s.errs = append(s.errs, app.ErrNoHand, nil)
	}
	return s
}

func TestCollectThenTrain(t *testing.T) {
	data := t.TempDir()
	dir := classifier.NewSampleDir(data)
	ctx := context.Background()

	var buf bytes.Buffer
	palm := handsEvery(detector.OpenPalmLandmarks(), 10)
	n, err := collectSamples(ctx, palm, dir, "yes", 10, time.Millisecond, &buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 20, palm.calls)
	assert.Contains(t, buf.String(), "yes 10/10")

	n, err = collectSamples(ctx, handsEvery(detector.ThumbsUpLandmarks(), 10), dir, "no", 10, time.Millisecond, &buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	out := filepath.Join(t.TempDir(), "model.json")
	buf.Reset()
	cli := newApp()
	cli.Writer = &buf
	require.NoError(t, cli.Run([]string{"mudra", "train", "--data", data, "--out", out}))
	assert.Contains(t, buf.String(), "yes        10 samples")
	assert.Contains(t, buf.String(), "accuracy 100.00% on 4 held-out samples")

	b, err := classifier.Load(out)
	require.NoError(t, err)
	want := detector.ThumbsUpLandmarks()
	idx, _, err := b.Predict(want.Vector())
	require.NoError(t, err)
	label, _ := classifier.DefaultCatalog().Label(idx)
	assert.Equal(t, "no", label)
}

func TestCollectSamples_StopsOnCancelAndErrors(t *testing.T) {
	dir := classifier.NewSampleDir(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	none := &sequenceHands{hands: []detector.HandLandmarks{{}}, errs: []error{app.ErrNoFrame}}
	n, err := collectSamples(ctx, none, dir, "yes", 5, time.Millisecond, io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)

	broken := &sequenceHands{hands: []detector.HandLandmarks{{}}, errs: []error{errors.New("subprocess died")}}
	_, err = collectSamples(context.Background(), broken, dir, "yes", 5, time.Millisecond, io.Discard)
	assert.ErrorContains(t, err, "subprocess died")
}

func TestCollectCommand_RejectsUnknownLabel(t *testing.T) {
	cli := newApp()
	cli.Writer = io.Discard
	err := cli.Run([]string{"mudra", "collect", "--label", "banana"})
	assert.ErrorContains(t, err, `unknown label "banana"`)
}

func TestRetrainCommand(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = "/srv/mudra"

	cmd := retrainCommand(cfg, "/etc/mudra.yaml", nil)
	require.NotEmpty(t, cmd)
	assert.Equal(t, []string{
		"--config", "/etc/mudra.yaml",
		"train",
		"--data", filepath.Join("/srv/mudra", "data"),
		"--out", filepath.Join("/srv/mudra", "model.json"),
	}, cmd[1:])

	cfg.Retrain.Command = []string{"python3", "train_classifier.py"}
	assert.Equal(t, []string{"python3", "train_classifier.py"}, retrainCommand(cfg, "", nil))
}

func TestRetrainCommand_RelativeDataDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}
	t.Chdir(t.TempDir())
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile("mudra.yaml", []byte("data_dir: mudra-data\n"), 0o644))

	cfg, err := config.Load("mudra.yaml")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cfg.TrainingDataDir(), 0o755))

	cmd := retrainCommand(cfg, "mudra.yaml", nil)
	assert.Equal(t, []string{
		"--config", filepath.Join(cwd, "mudra.yaml"),
		"train",
		"--data", filepath.Join(cwd, "mudra-data", "data"),
		"--out", filepath.Join(cwd, "mudra-data", "model.json"),
	}, cmd[1:])

	// The training command runs inside the data directory and must still
	// find the sample directory it was given.
	r := retrain.NewRunner(retrain.Config{
		Command: []string{"test", "-d", cfg.TrainingDataDir()},
		Dir:     cfg.DataDir,
	})
	require.NoError(t, r.Start())
	r.Wait()

	status := r.Status()
	require.NotNil(t, status.LastExitCode)
	assert.Equal(t, 0, *status.LastExitCode, status.Log)
}

func TestBrowserURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/", browserURL(":8080"))
	assert.Equal(t, "http://127.0.0.1:9000/", browserURL("127.0.0.1:9000"))
}

func TestFindWebDir(t *testing.T) {
	dataDir := t.TempDir()
	assert.Empty(t, findWebDirIn(t, dataDir))

	require.NoError(t, os.Mkdir(filepath.Join(dataDir, "web"), 0o755))
	assert.Equal(t, filepath.Join(dataDir, "web"), findWebDirIn(t, dataDir))
}

// findWebDirIn runs findWebDir from an empty working directory.
func findWebDirIn(t *testing.T, dataDir string) string {
	t.Helper()
	t.Chdir(t.TempDir())
	return findWebDir(dataDir)
}
