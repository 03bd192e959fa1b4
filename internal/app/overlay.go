package app

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	outlineColor     = color.RGBA{A: 255}
	labelColor       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	translationColor = color.RGBA{R: 255, G: 255, A: 255}
)

// drawOverlay writes the detection label and confidence onto img, with the
// translation on a second line when there is one. Each line is drawn as a
// thick dark pass under a thin light one.
func drawOverlay(img *gocv.Mat, d Detection) {
	if d.None() {
		return
	}

	text := fmt.Sprintf("%s (%d%%)", d.Label, int(d.Confidence*100))
	gocv.PutText(img, text, image.Pt(10, 40), gocv.FontHersheySimplex, 0.8, outlineColor, 3)
	gocv.PutText(img, text, image.Pt(10, 40), gocv.FontHersheySimplex, 0.8, labelColor, 1)

	if d.Translation == "" {
		return
	}
	gocv.PutText(img, d.Translation, image.Pt(10, 80), gocv.FontHersheySimplex, 0.7, outlineColor, 2)
	gocv.PutText(img, d.Translation, image.Pt(10, 80), gocv.FontHersheySimplex, 0.7, translationColor, 1)
}
