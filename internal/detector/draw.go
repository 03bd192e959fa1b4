package detector

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	connectionColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	landmarkColor   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// DrawHand draws the hand skeleton onto img. Landmark coordinates are
// normalized, so the same hand can be drawn at any resolution. Hands with the
// wrong number of points are drawn as points only.
func DrawHand(img *gocv.Mat, hand HandLandmarks) {
	if img == nil || img.Empty() {
		return
	}

	w, h := img.Cols(), img.Rows()
	toPixel := func(p Point3D) image.Point {
		return image.Pt(int(p.X*float64(w)), int(p.Y*float64(h)))
	}

	if hand.Valid() {
		for _, c := range Connections {
			gocv.Line(img, toPixel(hand.Points[c[0]]), toPixel(hand.Points[c[1]]), connectionColor, 2)
		}
	}

	for _, p := range hand.Points {
		gocv.Circle(img, toPixel(p), 3, landmarkColor, -1)
	}
}
