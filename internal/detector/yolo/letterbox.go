package yolo

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// letterboxFill is the padding gray used by the Ultralytics exporters.
var letterboxFill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// transform maps model input coordinates back to source image pixels.
type transform struct {
	scale      float64
	padX, padY float64
	srcW, srcH float64
}

// letterbox scales img to fit a size x size square keeping its aspect ratio
// and pads the remainder.
func letterbox(img image.Image, size int) (*image.NRGBA, transform) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	scale := math.Min(float64(size)/w, float64(size)/h)

	nw := max(1, int(math.Round(w*scale)))
	nh := max(1, int(math.Round(h*scale)))
	resized := imaging.Resize(img, nw, nh, imaging.Linear)

	padX := (size - nw) / 2
	padY := (size - nh) / 2
	canvas := imaging.New(size, size, letterboxFill)
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, transform{
		scale: scale,
		padX:  float64(padX),
		padY:  float64(padY),
		srcW:  w,
		srcH:  h,
	}
}

// toSource converts a center box in model input space to source pixels,
// clipped to the image.
func (t transform) toSource(cx, cy, w, h float64) (float64, float64, float64, float64) {
	x0 := clamp((cx-w/2-t.padX)/t.scale, 0, t.srcW)
	y0 := clamp((cy-h/2-t.padY)/t.scale, 0, t.srcH)
	x1 := clamp((cx+w/2-t.padX)/t.scale, 0, t.srcW)
	y1 := clamp((cy+h/2-t.padY)/t.scale, 0, t.srcH)
	return (x0 + x1) / 2, (y0 + y1) / 2, x1 - x0, y1 - y0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
