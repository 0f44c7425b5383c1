package gaze

// Calibrator establishes a neutral baseline from the first frames of a
// session. It works for any two-component sample: (yaw, pitch) for head
// orientation or (horizontal, vertical) for iris position.
type Calibrator struct {
	target int
	window int

	samples [][2]float64
	frames  int
	done    bool
	base    [2]float64
}

// NewCalibrator returns a calibrator that completes after target frames and
// averages the last window samples.
func NewCalibrator(target, window int) *Calibrator {
	if target < 1 {
		target = 1
	}
	if window < 1 {
		window = 1
	}
	return &Calibrator{
		target:  target,
		window:  window,
		samples: make([][2]float64, 0, window),
	}
}

// AddFrame records one sample and reports whether calibration is complete.
// Missing measurements should be passed as the neutral default; they still
// count toward the target.
func (c *Calibrator) AddFrame(x, y float64) bool {
	if c.done {
		return true
	}
	if len(c.samples) == c.window {
		copy(c.samples, c.samples[1:])
		c.samples = c.samples[:c.window-1]
	}
	c.samples = append(c.samples, [2]float64{x, y})
	c.frames++

	if c.frames >= c.target {
		var sx, sy float64
		for _, s := range c.samples {
			sx += s[0]
			sy += s[1]
		}
		n := float64(len(c.samples))
		c.base = [2]float64{sx / n, sy / n}
		c.done = true
	}
	return c.done
}

func (c *Calibrator) Calibrated() bool { return c.done }

// Frames returns how many samples have been added so far.
func (c *Calibrator) Frames() int { return c.frames }

// Baseline returns the neutral values. Both are zero until calibrated.
func (c *Calibrator) Baseline() (x, y float64) {
	return c.base[0], c.base[1]
}

// Delta returns the offset of a sample from the baseline, or zeros before
// calibration completes.
func (c *Calibrator) Delta(x, y float64) (dx, dy float64) {
	if !c.done {
		return 0, 0
	}
	return x - c.base[0], y - c.base[1]
}
