// Package detector provides the hand landmark extractor boundary and its
// implementations.
package detector

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// VectorSize is the length of a flattened landmark vector: x, y, z per point.
const VectorSize = NumLandmarks * 3

// Point3D is a landmark position. X and Y are normalized to the image size
// (0..1); Z is relative depth.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks is one detected hand.
type HandLandmarks struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness"` // "Left" or "Right"
	Score      float64   `json:"score"`
}

// NewHandLandmarks returns a hand with NumLandmarks zeroed points.
func NewHandLandmarks() HandLandmarks {
	return HandLandmarks{Points: make([]Point3D, NumLandmarks)}
}

// Valid reports whether the hand carries exactly NumLandmarks points.
func (h *HandLandmarks) Valid() bool {
	return h != nil && len(h.Points) == NumLandmarks
}

// Vector flattens the points into x0, y0, z0, x1, y1, z1, ...
// The result has 3*len(Points) entries; callers check it against VectorSize.
func (h *HandLandmarks) Vector() []float64 {
	if h == nil {
		return nil
	}
	v := make([]float64, 0, len(h.Points)*3)
	for _, p := range h.Points {
		v = append(v, p.X, p.Y, p.Z)
	}
	return v
}

// Connections lists the landmark pairs joined when drawing a hand skeleton.
var Connections = [][2]int{
	{Wrist, ThumbCMC}, {ThumbCMC, ThumbMCP}, {ThumbMCP, ThumbIP}, {ThumbIP, ThumbTip},
	{Wrist, IndexMCP}, {IndexMCP, IndexPIP}, {IndexPIP, IndexDIP}, {IndexDIP, IndexTip},
	{IndexMCP, MiddleMCP}, {MiddleMCP, MiddlePIP}, {MiddlePIP, MiddleDIP}, {MiddleDIP, MiddleTip},
	{MiddleMCP, RingMCP}, {RingMCP, RingPIP}, {RingPIP, RingDIP}, {RingDIP, RingTip},
	{RingMCP, PinkyMCP}, {Wrist, PinkyMCP}, {PinkyMCP, PinkyPIP}, {PinkyPIP, PinkyDIP}, {PinkyDIP, PinkyTip},
}
