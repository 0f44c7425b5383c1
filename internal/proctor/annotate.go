package proctor

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	"proctor-go/internal/objects"
	"proctor-go/internal/perception"
)

var (
	colorGreen  = color.RGBA{0, 200, 0, 255}
	colorYellow = color.RGBA{255, 215, 0, 255}
	colorOrange = color.RGBA{255, 140, 0, 255}
	colorRed    = color.RGBA{220, 0, 0, 255}
	colorBlue   = color.RGBA{70, 110, 255, 255}
)

const boxThickness = 2

// overlay is what gets drawn on top of a frame.
type overlay struct {
	face    *perception.BBox
	objects []objects.Observation
	dwell   time.Duration
	verdict Verdict
}

// annotate returns a copy of src with the face box, forbidden-object boxes
// colored by dwell, and a status bar colored by verdict.
func annotate(src image.Image, ov overlay) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	if ov.face != nil {
		strokeRect(dst, boxRect(*ov.face), colorGreen)
	}
	for _, o := range ov.objects {
		strokeRect(dst, boxRect(o.Box), dwellColor(o.Elapsed, ov.dwell))
	}

	bar := dst.Bounds().Dy() / 24
	if bar < 4 {
		bar = 4
	}
	fill(dst, image.Rect(0, 0, dst.Bounds().Dx(), bar), verdictColor(ov.verdict))
	return dst
}

func dwellColor(elapsed, dwell time.Duration) color.Color {
	switch {
	case elapsed >= dwell:
		return colorRed
	case elapsed*2 >= dwell:
		return colorOrange
	default:
		return colorYellow
	}
}

func verdictColor(v Verdict) color.Color {
	switch v {
	case VerdictCheating:
		return colorRed
	case VerdictSuspicious:
		return colorOrange
	case VerdictLookingAway:
		return colorYellow
	case VerdictCalibrating:
		return colorBlue
	default:
		return colorGreen
	}
}

func boxRect(b perception.BBox) image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

func strokeRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	t := boxThickness
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), c)
	fill(img, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), c)
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), c)
	fill(img, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func fill(img *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}
