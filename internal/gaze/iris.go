package gaze

import (
	"math"

	"proctor-go/internal/perception"
)

// Face mesh indices used for iris tracking.
var (
	leftIris  = [2]int{468, 473} // [start, end)
	rightIris = [2]int{473, 478}

	leftEye  = eyeRegion{left: 33, right: 133, top: 159, bottom: 144}
	rightEye = eyeRegion{left: 362, right: 263, top: 386, bottom: 373}
)

// minEyeSpan is the smallest eye width or height in pixels that is trusted;
// smaller eyes report a centered iris.
const minEyeSpan = 5.0

type eyeRegion struct {
	left, right, top, bottom int
}

// IrisPosition returns the mean normalized iris position across both eyes,
// each in [0,1] relative to its eye rectangle. ok is false when the mesh does
// not carry iris points.
func IrisPosition(lms []perception.Landmark, width, height int) (h, v float64, ok bool) {
	if len(lms) < perception.LandmarkCount || width <= 0 || height <= 0 {
		return 0.5, 0.5, false
	}
	w, ht := float64(width), float64(height)
	lh, lv := relativeIris(lms, leftIris, leftEye, w, ht)
	rh, rv := relativeIris(lms, rightIris, rightEye, w, ht)
	return (lh + rh) / 2, (lv + rv) / 2, true
}

func relativeIris(lms []perception.Landmark, iris [2]int, eye eyeRegion, w, h float64) (float64, float64) {
	var cx, cy float64
	for _, p := range lms[iris[0]:iris[1]] {
		cx += p.X
		cy += p.Y
	}
	n := float64(iris[1] - iris[0])
	cx, cy = cx/n*w, cy/n*h

	left := lms[eye.left].X * w
	right := lms[eye.right].X * w
	top := lms[eye.top].Y * h
	bottom := lms[eye.bottom].Y * h
	ew, eh := right-left, bottom-top
	if ew <= minEyeSpan || eh <= minEyeSpan {
		return 0.5, 0.5
	}
	return clamp01((cx - left) / ew), clamp01((cy - top) / eh)
}

// DeviationParams tunes the deviation signal.
type DeviationParams struct {
	LeftMultiplier float64
	Alpha          float64
	Threshold      float64
}

// Deviation converts an iris offset from baseline into a 0-100 motion
// percentage. Leftward (negative) horizontal offsets are amplified by
// leftMultiplier; vertical offsets count in either direction.
func Deviation(dh, dv, leftMultiplier float64) float64 {
	h := math.Abs(dh)
	if dh < 0 {
		h *= leftMultiplier
	}
	v := math.Abs(dv)
	return math.Min(math.Hypot(h, v)*100, 100)
}

// DeviationTracker smooths the deviation signal with an exponential moving
// average and labels each frame.
type DeviationTracker struct {
	params   DeviationParams
	smoothed float64
}

func NewDeviationTracker(p DeviationParams) *DeviationTracker {
	return &DeviationTracker{params: p}
}

// Update folds one raw deviation into the average and returns the smoothed
// value with its per-frame label.
func (t *DeviationTracker) Update(raw float64) (float64, State) {
	a := t.params.Alpha
	t.smoothed = a*raw + (1-a)*t.smoothed
	return t.smoothed, t.label()
}

// Hold returns the current value unchanged, for frames without a measurement.
func (t *DeviationTracker) Hold() (float64, State) {
	return t.smoothed, t.label()
}

func (t *DeviationTracker) Smoothed() float64 { return t.smoothed }

func (t *DeviationTracker) label() State {
	if t.smoothed > t.params.Threshold {
		return Away
	}
	return Forward
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
