package gaze

import (
	"errors"
	"math"

	"proctor-go/internal/perception"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// ErrPoseNotConverged is returned when the reprojection fit fails.
var ErrPoseNotConverged = errors.New("pose solver did not converge")

// Point2 is an image-plane point in pixels.
type Point2 struct{ X, Y float64 }

// Point3 is a model-space point. Axes follow the camera convention: x to the
// right, y down, z away from the camera.
type Point3 struct{ X, Y, Z float64 }

// faceModel is a generic head in arbitrary units: nose tip, chin, outer eye
// corners, mouth corners.
var faceModel = [6]Point3{
	{0, 0, 0},
	{0, 30, 30},
	{-22.5, -10, 30},
	{22.5, -10, 30},
	{-15, 25, 30},
	{15, 25, 30},
}

// eyeSpan is the model distance between the two eye points.
const eyeSpan = 45.0

// Camera is a pinhole camera with square pixels.
type Camera struct {
	Focal  float64
	CX, CY float64
}

// DefaultCamera uses the frame width as focal length and the frame center as
// principal point.
func DefaultCamera(width, height int) Camera {
	return Camera{Focal: float64(width), CX: float64(width) / 2, CY: float64(height) / 2}
}

// Orientation is a head pose in degrees.
type Orientation struct {
	Yaw   float64
	Pitch float64
	Roll  float64
}

// LandmarksFromBox places the six model landmarks at fixed fractions of a
// face box.
func LandmarksFromBox(b perception.BBox) [6]Point2 {
	w, h := b.Width(), b.Height()
	cx, cy := (b.X1+b.X2)/2, (b.Y1+b.Y2)/2
	return [6]Point2{
		{cx, cy},
		{cx, b.Y2 - 0.1*h},
		{b.X1 + 0.15*w, cy - 0.2*h},
		{b.X2 - 0.15*w, cy - 0.2*h},
		{b.X1 + 0.2*w, cy + 0.1*h},
		{b.X2 - 0.2*w, cy + 0.1*h},
	}
}

// EstimateOrientation derives a coarse head pose from a face box. A missing or
// degenerate box, or a failed fit, yields the zero pose and Unknown.
func EstimateOrientation(box *perception.BBox, width, height int) (Orientation, State) {
	if box == nil || !box.Valid() || width <= 0 || height <= 0 {
		return Orientation{}, Unknown
	}
	o, err := SolvePose(LandmarksFromBox(*box), DefaultCamera(width, height))
	if err != nil {
		return Orientation{}, Unknown
	}
	return o, Forward
}

// SolvePose fits a rotation and translation of the face model that minimizes
// the squared reprojection error of the given image points.
func SolvePose(pts [6]Point2, cam Camera) (Orientation, error) {
	span := math.Hypot(pts[3].X-pts[2].X, pts[3].Y-pts[2].Y)
	if span <= 0 || cam.Focal <= 0 {
		return Orientation{}, ErrPoseNotConverged
	}

	// Initial depth from the apparent eye distance; the translation is
	// parameterized relative to it so all unknowns share one scale.
	z0 := cam.Focal * eyeSpan / span
	tx0 := (pts[0].X - cam.CX) * z0 / cam.Focal
	ty0 := (pts[0].Y - cam.CY) * z0 / cam.Focal
	norm := span * span

	translation := func(x []float64) (float64, float64, float64) {
		return tx0 + x[3]*z0, ty0 + x[4]*z0, z0 * (1 + x[5])
	}

	cost := func(x []float64) float64 {
		R := rodrigues(x[0], x[1], x[2])
		tx, ty, tz := translation(x)
		var sum float64
		for i, p := range faceModel {
			X := R.At(0, 0)*p.X + R.At(0, 1)*p.Y + R.At(0, 2)*p.Z + tx
			Y := R.At(1, 0)*p.X + R.At(1, 1)*p.Y + R.At(1, 2)*p.Z + ty
			Z := R.At(2, 0)*p.X + R.At(2, 1)*p.Y + R.At(2, 2)*p.Z + tz
			if Z <= 1e-6 {
				return math.Inf(1)
			}
			du := cam.Focal*X/Z + cam.CX - pts[i].X
			dv := cam.Focal*Y/Z + cam.CY - pts[i].Y
			sum += du*du + dv*dv
		}
		return sum / norm
	}

	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, cost, x, &fd.Settings{Formula: fd.Central})
		},
	}
	settings := &optimize.Settings{
		MajorIterations: 500,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-12, Iterations: 50},
	}

	x0 := make([]float64, 6)
	best, bestF := fit(problem, x0, settings, &optimize.BFGS{})
	// A second derivative-free pass from the best point escapes line search
	// stalls on flat regions.
	if x, f := fit(problem, best, settings, &optimize.NelderMead{}); f < bestF {
		best, bestF = x, f
	}
	if math.IsNaN(bestF) || math.IsInf(bestF, 0) {
		return Orientation{}, ErrPoseNotConverged
	}

	return eulerAngles(rodrigues(best[0], best[1], best[2])), nil
}

// fit runs one optimization and returns the best location found, even when
// the method stops with an error.
func fit(p optimize.Problem, x0 []float64, s *optimize.Settings, m optimize.Method) ([]float64, float64) {
	res, err := optimize.Minimize(p, x0, s, m)
	if res == nil || len(res.X) != len(x0) {
		return x0, p.Func(x0)
	}
	if err != nil && !(res.F < p.Func(x0)) {
		return x0, p.Func(x0)
	}
	return res.X, res.F
}

// rodrigues converts an axis-angle vector into a rotation matrix.
func rodrigues(rx, ry, rz float64) *mat.Dense {
	theta := math.Sqrt(rx*rx + ry*ry + rz*rz)
	R := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if theta < 1e-12 {
		return R
	}
	kx, ky, kz := rx/theta, ry/theta, rz/theta
	K := mat.NewDense(3, 3, []float64{
		0, -kz, ky,
		kz, 0, -kx,
		-ky, kx, 0,
	})
	var K2 mat.Dense
	K2.Mul(K, K)

	var sinK, cosK2 mat.Dense
	sinK.Scale(math.Sin(theta), K)
	cosK2.Scale(1-math.Cos(theta), &K2)
	R.Add(R, &sinK)
	R.Add(R, &cosK2)
	return R
}

// eulerAngles decomposes R = Rz(roll)·Ry(yaw)·Rx(pitch) and normalizes each
// angle to [-180, 180] degrees.
func eulerAngles(R mat.Matrix) Orientation {
	sy := math.Hypot(R.At(0, 0), R.At(1, 0))
	var pitch, yaw, roll float64
	if sy > 1e-6 {
		pitch = math.Atan2(R.At(2, 1), R.At(2, 2))
		yaw = math.Atan2(-R.At(2, 0), sy)
		roll = math.Atan2(R.At(1, 0), R.At(0, 0))
	} else {
		pitch = math.Atan2(-R.At(1, 2), R.At(1, 1))
		yaw = math.Atan2(-R.At(2, 0), sy)
	}
	return Orientation{
		Yaw:   normalizeDegrees(yaw * 180 / math.Pi),
		Pitch: normalizeDegrees(pitch * 180 / math.Pi),
		Roll:  normalizeDegrees(roll * 180 / math.Pi),
	}
}

func normalizeDegrees(a float64) float64 {
	a = math.Mod(a+180, 360)
	if a < 0 {
		a += 360
	}
	return a - 180
}
