// Package capture provides camera capture, the shared latest-frame slot and
// the acquisition loop that keeps it fresh.
package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings.
const (
	DefaultFPS    = 20
	DefaultWidth  = 480
	DefaultHeight = 360
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrReadFailed is returned when the device did not deliver a frame.
	ErrReadFailed = errors.New("failed to read frame from camera")
	// ErrEmptyFrame is returned when the device delivered an empty frame.
	ErrEmptyFrame = errors.New("captured frame is empty")
)

// Settings describes which device to open and how to configure it.
type Settings struct {
	DeviceID int `yaml:"device"`
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	FPS      int `yaml:"fps"`
}

// DefaultSettings returns the settings used when nothing else is configured.
func DefaultSettings() Settings {
	return Settings{
		DeviceID: 0,
		Width:    DefaultWidth,
		Height:   DefaultHeight,
		FPS:      DefaultFPS,
	}
}

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	Apply(s Settings)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// OpenFunc opens a new camera session for the given settings.
type OpenFunc func(s Settings) (Camera, error)

// OpenDevice is the OpenFunc for physical devices.
func OpenDevice(s Settings) (Camera, error) {
	cam := NewCamera(s)
	if err := cam.Open(); err != nil {
		return nil, err
	}
	return cam, nil
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	settings Settings
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
}

// NewCamera creates a new Camera for the given settings. The device is not
// opened until Open is called.
func NewCamera(s Settings) Camera {
	if s.FPS <= 0 {
		s.FPS = DefaultFPS
	}
	return &cameraImpl{settings: s}
}

// Open opens the camera and applies the configured resolution and frame rate.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.settings.DeviceID)
	if err != nil {
		return err
	}
	if !capture.IsOpened() {
		capture.Close()
		return ErrCameraNotOpen
	}

	c.capture = capture
	c.running = true
	c.applyLocked()

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, ErrReadFailed
	}

	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}

	return &mat, nil
}

// Apply stores new settings and pushes resolution and rate to an open device.
// The device ID only takes effect on the next Open.
func (c *cameraImpl) Apply(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.FPS <= 0 {
		s.FPS = c.settings.FPS
	}
	c.settings = s
	c.applyLocked()
}

func (c *cameraImpl) applyLocked() {
	if c.capture == nil {
		return
	}
	if c.settings.Width > 0 {
		c.capture.Set(gocv.VideoCaptureFrameWidth, float64(c.settings.Width))
	}
	if c.settings.Height > 0 {
		c.capture.Set(gocv.VideoCaptureFrameHeight, float64(c.settings.Height))
	}
	c.capture.Set(gocv.VideoCaptureFPS, float64(c.settings.FPS))
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings.FPS = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings.FPS
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
