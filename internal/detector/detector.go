package detector

import "gocv.io/x/gocv"

// Detector extracts hand landmarks from an image.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect.
	MaxHands int `json:"max_hands" yaml:"max_hands"`

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64 `json:"min_detection_confidence" yaml:"min_detection_confidence"`

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64 `json:"min_tracking_confidence" yaml:"min_tracking_confidence"`

	// ModelComplexity selects the landmark model (0 = lite, 1 = full).
	ModelComplexity int `json:"model_complexity" yaml:"model_complexity"`

	// Script overrides the path of the MediaPipe service script.
	Script string `json:"-" yaml:"script"`

	// Python overrides the interpreter used to run the script.
	Python string `json:"-" yaml:"python"`
}

// DefaultConfig returns the single-hand configuration used for sign
// recognition.
func DefaultConfig() Config {
	return Config{
		MaxHands:        1,
		MinConfidence:   0.6,
		MinTrackingConf: 0.6,
		ModelComplexity: 0,
	}
}
