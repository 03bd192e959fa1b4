package detector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const epsilon = 1e-9

func TestHandLandmarks_Vector(t *testing.T) {
	t.Run("flattens points in x y z order", func(t *testing.T) {
		hand := NewHandLandmarks()
		for i := range hand.Points {
			hand.Points[i] = Point3D{X: float64(i), Y: float64(i) + 0.1, Z: float64(i) + 0.2}
		}

		v := hand.Vector()
		require.Len(t, v, VectorSize)
		for i := 0; i < NumLandmarks; i++ {
			assert.InDelta(t, float64(i), v[3*i], epsilon)
			assert.InDelta(t, float64(i)+0.1, v[3*i+1], epsilon)
			assert.InDelta(t, float64(i)+0.2, v[3*i+2], epsilon)
		}
	})

	t.Run("short hand yields short vector", func(t *testing.T) {
		hand := HandLandmarks{Points: make([]Point3D, 20)}
		assert.False(t, hand.Valid())
		assert.Len(t, hand.Vector(), 60)
	})

	t.Run("nil hand", func(t *testing.T) {
		var hand *HandLandmarks
		assert.Nil(t, hand.Vector())
		assert.False(t, hand.Valid())
	})
}

func TestParseResponse(t *testing.T) {
	t.Run("keeps every reported point", func(t *testing.T) {
		hands, err := parseResponse([]byte(`{"hands":[{"points":[{"x":0.1,"y":0.2,"z":0.3},{"x":0.4,"y":0.5,"z":0.6}],"handedness":"Left","score":0.8}]}`))
		require.NoError(t, err)
		require.Len(t, hands, 1)
		assert.Len(t, hands[0].Points, 2)
		assert.Equal(t, "Left", hands[0].Handedness)
		assert.False(t, hands[0].Valid())
	})

	t.Run("no hands", func(t *testing.T) {
		hands, err := parseResponse([]byte(`{"hands":[]}` + "\n"))
		require.NoError(t, err)
		assert.Empty(t, hands)
	})

	t.Run("service error", func(t *testing.T) {
		_, err := parseResponse([]byte(`{"error":"bad frame"}`))
		assert.ErrorContains(t, err, "bad frame")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseResponse([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestNewMediaPipeDetector_MissingScript(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, err := NewMediaPipeDetector(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrScriptNotFound)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1, cfg.MaxHands)
	assert.InDelta(t, 0.6, cfg.MinConfidence, epsilon)
	assert.InDelta(t, 0.6, cfg.MinTrackingConf, epsilon)
	assert.Equal(t, 0, cfg.ModelComplexity)
}

func TestDrawHand(t *testing.T) {
	img := gocv.NewMatWithSize(360, 480, gocv.MatTypeCV8UC3)
	defer img.Close()

	DrawHand(&img, OpenPalmLandmarks())

	wrist := OpenPalmLandmarks().Points[Wrist]
	px := img.GetVecbAt(int(wrist.Y*360), int(wrist.X*480))
	assert.NotEqual(t, []uint8{0, 0, 0}, []uint8{px[0], px[1], px[2]}, "wrist should be drawn")

	// Drawing on an empty image is a no-op
	empty := gocv.NewMat()
	defer empty.Close()
	DrawHand(&empty, OpenPalmLandmarks())
	DrawHand(nil, OpenPalmLandmarks())
}

func TestMockDetector(t *testing.T) {
	t.Run("returns empty hands by default", func(t *testing.T) {
		mock := NewMockDetector()

		hands, err := mock.Detect(nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if hands != nil {
			t.Errorf("expected nil hands, got %v", hands)
		}
		if mock.Calls() != 1 {
			t.Errorf("expected 1 call, got %d", mock.Calls())
		}
	})

	t.Run("returns configured hands", func(t *testing.T) {
		mock := NewMockDetector()

		expectedHands := []HandLandmarks{
			ThumbsUpLandmarks(),
			OpenPalmLandmarks(),
		}
		mock.SetHands(expectedHands)

		hands, err := mock.Detect(nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(hands) != 2 {
			t.Errorf("expected 2 hands, got %d", len(hands))
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockDetector()

		expectedErr := errors.New("detection failed")
		mock.SetError(expectedErr)

		hands, err := mock.Detect(nil)

		if err != expectedErr {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if hands != nil {
			t.Errorf("expected nil hands when error is set, got %v", hands)
		}
	})

	t.Run("Close returns nil", func(t *testing.T) {
		mock := NewMockDetector()

		err := mock.Close()

		if err != nil {
			t.Errorf("expected Close to return nil, got %v", err)
		}
		if !mock.Closed() {
			t.Error("expected mock to report closed")
		}
	})

	t.Run("implements Detector interface", func(t *testing.T) {
		var _ Detector = (*MockDetector)(nil)
	})
}

func TestThumbsUpLandmarks(t *testing.T) {
	landmarks := ThumbsUpLandmarks()

	t.Run("has correct handedness and score", func(t *testing.T) {
		if !landmarks.Valid() {
			t.Fatalf("expected %d points, got %d", NumLandmarks, len(landmarks.Points))
		}
		if landmarks.Handedness != "Right" {
			t.Errorf("expected handedness Right, got %s", landmarks.Handedness)
		}
		if landmarks.Score < 0.9 {
			t.Errorf("expected score >= 0.9, got %f", landmarks.Score)
		}
	})

	t.Run("thumb is extended upward", func(t *testing.T) {
		// Thumb tip should be above (lower Y) than thumb MCP
		if landmarks.Points[ThumbTip].Y >= landmarks.Points[ThumbMCP].Y {
			t.Error("thumb tip should be above thumb MCP (lower Y value)")
		}

		// Thumb tip should be above thumb IP
		if landmarks.Points[ThumbTip].Y >= landmarks.Points[ThumbIP].Y {
			t.Error("thumb tip should be above thumb IP (lower Y value)")
		}
	})

	t.Run("other fingers are curled", func(t *testing.T) {
		// For curled fingers, the tip should be close to or below the MCP in Y
		// and generally curled back toward the palm

		// Index finger
		indexExtension := landmarks.Points[IndexMCP].Y - landmarks.Points[IndexTip].Y
		if indexExtension > 0.15 {
			t.Errorf("index finger appears extended (extension: %f), should be curled", indexExtension)
		}

		// Middle finger
		middleExtension := landmarks.Points[MiddleMCP].Y - landmarks.Points[MiddleTip].Y
		if middleExtension > 0.15 {
			t.Errorf("middle finger appears extended (extension: %f), should be curled", middleExtension)
		}

		// Ring finger
		ringExtension := landmarks.Points[RingMCP].Y - landmarks.Points[RingTip].Y
		if ringExtension > 0.15 {
			t.Errorf("ring finger appears extended (extension: %f), should be curled", ringExtension)
		}

		// Pinky finger
		pinkyExtension := landmarks.Points[PinkyMCP].Y - landmarks.Points[PinkyTip].Y
		if pinkyExtension > 0.15 {
			t.Errorf("pinky finger appears extended (extension: %f), should be curled", pinkyExtension)
		}
	})
}

func TestOpenPalmLandmarks(t *testing.T) {
	landmarks := OpenPalmLandmarks()

	t.Run("has correct handedness and score", func(t *testing.T) {
		if !landmarks.Valid() {
			t.Fatalf("expected %d points, got %d", NumLandmarks, len(landmarks.Points))
		}
		if landmarks.Handedness != "Right" {
			t.Errorf("expected handedness Right, got %s", landmarks.Handedness)
		}
		if landmarks.Score < 0.9 {
			t.Errorf("expected score >= 0.9, got %f", landmarks.Score)
		}
	})

	t.Run("all fingers are extended", func(t *testing.T) {
		// For extended fingers, the tip should be significantly above (lower Y) the MCP
		minExtension := 0.2 // minimum expected extension

		// Index finger
		indexExtension := landmarks.Points[IndexMCP].Y - landmarks.Points[IndexTip].Y
		if indexExtension < minExtension {
			t.Errorf("index finger not extended enough (extension: %f), expected >= %f", indexExtension, minExtension)
		}

		// Middle finger
		middleExtension := landmarks.Points[MiddleMCP].Y - landmarks.Points[MiddleTip].Y
		if middleExtension < minExtension {
			t.Errorf("middle finger not extended enough (extension: %f), expected >= %f", middleExtension, minExtension)
		}

		// Ring finger
		ringExtension := landmarks.Points[RingMCP].Y - landmarks.Points[RingTip].Y
		if ringExtension < minExtension {
			t.Errorf("ring finger not extended enough (extension: %f), expected >= %f", ringExtension, minExtension)
		}

		// Pinky finger
		pinkyExtension := landmarks.Points[PinkyMCP].Y - landmarks.Points[PinkyTip].Y
		if pinkyExtension < minExtension {
			t.Errorf("pinky finger not extended enough (extension: %f), expected >= %f", pinkyExtension, minExtension)
		}
	})

	t.Run("thumb is extended to the side", func(t *testing.T) {
		// Thumb should be extended away from the palm (higher X for right hand)
		if landmarks.Points[ThumbTip].X <= landmarks.Points[ThumbMCP].X {
			t.Error("thumb tip should be to the right of thumb MCP (extended outward)")
		}
	})

	t.Run("fingers are properly ordered left to right", func(t *testing.T) {
		// For a right hand palm facing forward, fingers should be ordered
		// from left to right: pinky, ring, middle, index, thumb
		if landmarks.Points[PinkyMCP].X >= landmarks.Points[RingMCP].X {
			t.Error("pinky should be to the left of ring finger")
		}
		if landmarks.Points[RingMCP].X >= landmarks.Points[MiddleMCP].X {
			t.Error("ring should be to the left of middle finger")
		}
		if landmarks.Points[MiddleMCP].X >= landmarks.Points[IndexMCP].X {
			t.Error("middle should be to the left of index finger")
		}
	})
}
