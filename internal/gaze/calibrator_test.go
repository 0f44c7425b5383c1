package gaze

import (
	"math"
	"testing"
)

func TestCalibratorCompletesOnTargetFrame(t *testing.T) {
	c := NewCalibrator(90, 30)
	for i := 1; i <= 90; i++ {
		done := c.AddFrame(float64(i), float64(-i))
		if i < 90 && done {
			t.Fatalf("calibration reported complete at frame %d", i)
		}
		if i == 90 && !done {
			t.Fatal("calibration not complete at frame 90")
		}
	}

	// Mean of samples 61..90.
	x, y := c.Baseline()
	if x != 75.5 || y != -75.5 {
		t.Errorf("baseline = (%v, %v), want (75.5, -75.5)", x, y)
	}
	if !c.AddFrame(1000, 1000) {
		t.Error("AddFrame after completion should keep returning true")
	}
	if x2, _ := c.Baseline(); x2 != x {
		t.Error("baseline changed after calibration completed")
	}
}

func TestCalibratorFewerSamplesThanWindow(t *testing.T) {
	c := NewCalibrator(4, 30)
	for _, v := range []float64{0.4, 0.5, 0.6} {
		if c.AddFrame(v, 0.5) {
			t.Fatal("completed early")
		}
	}
	if !c.AddFrame(0.5, 0.5) {
		t.Fatal("expected completion on fourth frame")
	}
	x, y := c.Baseline()
	if math.Abs(x-0.5) > 1e-12 || y != 0.5 {
		t.Errorf("baseline = (%v, %v), want (0.5, 0.5)", x, y)
	}
}

func TestCalibratorDelta(t *testing.T) {
	c := NewCalibrator(2, 30)
	c.AddFrame(0.5, 0.5)
	if dx, dy := c.Delta(0.9, 0.1); dx != 0 || dy != 0 {
		t.Errorf("delta before calibration = (%v, %v), want zeros", dx, dy)
	}
	c.AddFrame(0.5, 0.5)
	dx, dy := c.Delta(0.7, 0.4)
	if math.Abs(dx-0.2) > 1e-12 || math.Abs(dy+0.1) > 1e-12 {
		t.Errorf("delta = (%v, %v), want (0.2, -0.1)", dx, dy)
	}
	if c.Frames() != 2 {
		t.Errorf("Frames() = %d, want 2", c.Frames())
	}
}
