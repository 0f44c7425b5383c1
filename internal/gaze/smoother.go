package gaze

import "time"

// FrameBuffer is a fixed-capacity ring of the most recent frames.
type FrameBuffer struct {
	frames []Frame
	start  int
	size   int
}

func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBuffer{frames: make([]Frame, capacity)}
}

// Add appends a frame, overwriting the oldest when full.
func (b *FrameBuffer) Add(f Frame) {
	if b.size < len(b.frames) {
		b.frames[(b.start+b.size)%len(b.frames)] = f
		b.size++
		return
	}
	b.frames[b.start] = f
	b.start = (b.start + 1) % len(b.frames)
}

func (b *FrameBuffer) Len() int { return b.size }

// Recent returns the frames with timestamps in [now-window, now], oldest first.
func (b *FrameBuffer) Recent(now time.Time, window time.Duration) []Frame {
	cutoff := now.Add(-window)
	var out []Frame
	for i := 0; i < b.size; i++ {
		f := b.frames[(b.start+i)%len(b.frames)]
		if !f.Timestamp.Before(cutoff) && !f.Timestamp.After(now) {
			out = append(out, f)
		}
	}
	return out
}

// AwayFraction is the share of AWAY frames in the trailing window, or 0 when
// the window is empty.
func (b *FrameBuffer) AwayFraction(now time.Time, window time.Duration) float64 {
	recent := b.Recent(now, window)
	if len(recent) == 0 {
		return 0
	}
	away := 0
	for _, f := range recent {
		if f.State == Away {
			away++
		}
	}
	return float64(away) / float64(len(recent))
}

// SmootherParams holds the hysteresis thresholds.
type SmootherParams struct {
	Capacity      int
	EntryWindow   time.Duration
	EntryFraction float64
	ExitWindow    time.Duration
	ExitFraction  float64
}

// Smoother debounces per-frame labels into a stable state. Entering AWAY
// needs a high share of AWAY frames over a longer window; leaving it needs a
// lower share of FORWARD frames over a shorter one.
type Smoother struct {
	params SmootherParams
	buf    *FrameBuffer
	state  State
}

func NewSmoother(p SmootherParams) *Smoother {
	return &Smoother{params: p, buf: NewFrameBuffer(p.Capacity), state: Forward}
}

// Update adds a frame and returns the debounced state. entered is true only
// on the frame that transitions into AWAY.
func (s *Smoother) Update(f Frame) (state State, entered bool) {
	s.buf.Add(f)
	now := f.Timestamp
	switch s.state {
	case Away:
		forward := 1 - s.buf.AwayFraction(now, s.params.ExitWindow)
		if forward >= s.params.ExitFraction {
			s.state = Forward
		}
	default:
		if s.buf.AwayFraction(now, s.params.EntryWindow) >= s.params.EntryFraction {
			s.state = Away
			entered = true
		}
	}
	return s.state, entered
}

func (s *Smoother) State() State { return s.state }

// AwayFraction reports the entry-window AWAY share at now.
func (s *Smoother) AwayFraction(now time.Time) float64 {
	return s.buf.AwayFraction(now, s.params.EntryWindow)
}
