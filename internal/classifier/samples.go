package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/detector"
)

var (
	// ErrInvalidLabel is returned for labels that cannot name a sample
	// directory.
	ErrInvalidLabel = errors.New("invalid label")
	// ErrInvalidSample is returned for hands without a full set of landmarks.
	ErrInvalidSample = errors.New("sample does not have a full set of landmarks")
)

// SampleDir records samples as <root>/<label>/<n>.json, the layout Trainer
// reads. It is safe for concurrent use.
type SampleDir struct {
	root string
	mu   sync.Mutex
}

// NewSampleDir returns a SampleDir rooted at root. Directories are created on
// the first Add.
func NewSampleDir(root string) *SampleDir {
	return &SampleDir{root: root}
}

// Root returns the directory samples are written under.
func (d *SampleDir) Root() string {
	return d.root
}

// Add writes hand as the next sample of label and returns the file written.
func (d *SampleDir) Add(label string, hand detector.HandLandmarks, at time.Time) (string, error) {
	if err := checkLabel(label); err != nil {
		return "", err
	}
	if !hand.Valid() {
		return "", ErrInvalidSample
	}

	data, err := json.Marshal(Sample{Landmarks: hand.Points, Timestamp: at.UnixMilli()})
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.root, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sample directory: %w", err)
	}
	next, err := nextIndex(dir)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, strconv.Itoa(next)+".json")
	tmp, err := os.CreateTemp(dir, ".sample-*")
	if err != nil {
		return "", fmt.Errorf("write sample: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write sample: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write sample: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("write sample: %w", err)
	}
	return path, nil
}

// Count returns the number of samples recorded for label.
func (d *SampleDir) Count(label string) (int, error) {
	if err := checkLabel(label); err != nil {
		return 0, err
	}
	files, err := filepath.Glob(filepath.Join(d.root, label, "*.json"))
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// Counts returns the sample count of every label, including zeros.
func (d *SampleDir) Counts(labels []string) (map[string]int, error) {
	out := make(map[string]int, len(labels))
	for _, l := range labels {
		n, err := d.Count(l)
		if err != nil {
			return nil, fmt.Errorf("count %q: %w", l, err)
		}
		out[l] = n
	}
	return out, nil
}

// Clear removes every sample of label and returns how many were removed.
func (d *SampleDir) Clear(label string) (int, error) {
	if err := checkLabel(label); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(d.root, label, "*.json"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func checkLabel(label string) error {
	if label == "" || label == "." || label == ".." || strings.ContainsAny(label, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return nil
}

// nextIndex returns one past the highest numbered sample in dir.
func nextIndex(dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	next := 0
	for _, f := range files {
		n, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(f), ".json"))
		if err == nil && n >= next {
			next = n + 1
		}
	}
	return next, nil
}
