package perception

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for uploaded frames
	_ "image/png"
	"time"
)

// LandmarkCount is the minimum number of points a dense face mesh must carry
// for the iris clusters to be present.
const LandmarkCount = 478

// Frame is one decoded camera frame. Data keeps the encoded bytes so they can
// be forwarded to the model worker without re-encoding.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	Image     image.Image
}

// DecodeFrame decodes a JPEG or PNG payload into a Frame.
func DecodeFrame(seq uint64, ts time.Time, data []byte) (Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	b := img.Bounds()
	return Frame{
		Seq:       seq,
		Timestamp: ts,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Data:      data,
		Image:     img,
	}, nil
}

// BBox is an axis-aligned box in pixel coordinates.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Valid reports whether the box has a positive area.
func (b BBox) Valid() bool {
	return b.Width() > 0 && b.Height() > 0
}

// Detection is one object reported by the detector.
type Detection struct {
	Class      string
	Confidence float64
	Box        BBox
}

// Landmark is a face mesh point. X and Y are normalized to the frame size.
type Landmark struct {
	X, Y, Z float64
}

type ObjectDetector interface {
	DetectObjects(ctx context.Context, f Frame) ([]Detection, error)
}

// FaceDetector returns nil when no face is visible.
type FaceDetector interface {
	DetectFace(ctx context.Context, f Frame) (*BBox, error)
}

// LandmarkDetector returns nil when no face mesh could be fitted.
type LandmarkDetector interface {
	DetectLandmarks(ctx context.Context, f Frame) ([]Landmark, error)
}

// Provider bundles the three capabilities a proctoring session consumes.
type Provider interface {
	ObjectDetector
	FaceDetector
	LandmarkDetector
}

// Null is a Provider that never detects anything. It is used when no model
// worker is configured.
type Null struct{}

func (Null) DetectObjects(context.Context, Frame) ([]Detection, error)  { return nil, nil }
func (Null) DetectFace(context.Context, Frame) (*BBox, error)           { return nil, nil }
func (Null) DetectLandmarks(context.Context, Frame) ([]Landmark, error) { return nil, nil }
