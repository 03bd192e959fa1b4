package app

import (
	"sync"
	"time"
)

// HistoryCapacity is the number of accepted detections kept in history.
const HistoryCapacity = 20

// Detection is one recognized sign. The zero value means "no detection".
type Detection struct {
	Label       string    `json:"label"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	Translation string    `json:"translation,omitempty"`
}

// None reports whether d carries no label.
func (d Detection) None() bool {
	return d.Label == ""
}

// State holds the current detection and the history of accepted ones. All
// access goes through one mutex.
type State struct {
	mu       sync.Mutex
	current  Detection
	history  []Detection
	capacity int
}

// NewState returns an empty State keeping at most capacity history entries.
func NewState(capacity int) *State {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &State{
		history:  make([]Detection, 0, capacity),
		capacity: capacity,
	}
}

// Accept records an accepted detection. It always becomes current, and is
// appended to history only when its label differs from the last history
// entry. It reports whether history grew.
func (s *State) Accept(label string, confidence float64, ts time.Time) bool {
	d := Detection{Label: label, Confidence: confidence, Timestamp: ts}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = d
	if n := len(s.history); n > 0 && s.history[n-1].Label == label {
		return false
	}
	if len(s.history) == s.capacity {
		copy(s.history, s.history[1:])
		s.history = s.history[:s.capacity-1]
	}
	s.history = append(s.history, d)
	return true
}

// Clear resets the current detection. History is left alone.
func (s *State) Clear() {
	s.mu.Lock()
	s.current = Detection{}
	s.mu.Unlock()
}

// Current returns the current detection.
func (s *State) Current() Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// History returns a copy of the accepted detections, oldest first.
func (s *State) History() []Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Detection(nil), s.history...)
}

// Reset empties both the current detection and history.
func (s *State) Reset() {
	s.mu.Lock()
	s.current = Detection{}
	s.history = s.history[:0]
	s.mu.Unlock()
}
