// Package objects tracks how long forbidden objects stay in view.
package objects

import (
	"sort"
	"strings"
	"time"

	"proctor-go/internal/gaze"
	"proctor-go/internal/perception"
)

type Params struct {
	MinConfidence float64
	Dwell         time.Duration
	DedupLimit    int
}

// Observation describes one forbidden object visible in the current frame.
type Observation struct {
	Object     string
	Class      string
	Confidence float64
	Box        perception.BBox
	Elapsed    time.Duration
	// Violation is set once the object has been in view for the dwell time.
	Violation bool
	// Emit is set when this violation has not been reported for the current
	// elapsed second yet.
	Emit bool
}

// Tracker keeps one presence timer per forbidden object. Presence must be
// continuous: an object missing from a frame loses its timer immediately.
type Tracker struct {
	names   map[string]string
	params  Params
	timers map[string]*gaze.Timer
	// emitted holds, per object name, the elapsed seconds already reported.
	emitted map[string]map[int]struct{}
	keys    int
}

// NewTracker builds a tracker for the given class to name table.
func NewTracker(names map[string]string, p Params) *Tracker {
	lookup := make(map[string]string, len(names))
	for class, name := range names {
		lookup[strings.ToLower(class)] = name
	}
	if p.DedupLimit <= 0 {
		p.DedupLimit = 100
	}
	return &Tracker{
		names:   lookup,
		params:  p,
		timers:  make(map[string]*gaze.Timer),
		emitted: make(map[string]map[int]struct{}),
	}
}

// Filter keeps the detections of catalogued classes above the confidence
// threshold, one per object name (the most confident wins).
func (t *Tracker) Filter(dets []perception.Detection) map[string]perception.Detection {
	out := make(map[string]perception.Detection)
	for _, d := range dets {
		if d.Confidence < t.params.MinConfidence {
			continue
		}
		name, ok := t.names[strings.ToLower(d.Class)]
		if !ok {
			continue
		}
		if prev, seen := out[name]; seen && prev.Confidence >= d.Confidence {
			continue
		}
		out[name] = d
	}
	return out
}

// Update advances all timers to now and returns the visible forbidden
// objects sorted by name.
func (t *Tracker) Update(now time.Time, dets []perception.Detection) []Observation {
	present := t.Filter(dets)

	for name := range t.timers {
		if _, ok := present[name]; !ok {
			delete(t.timers, name)
			t.forget(name)
		}
	}

	out := make([]Observation, 0, len(present))
	for name, d := range present {
		tm, ok := t.timers[name]
		if !ok {
			tm = &gaze.Timer{}
			t.timers[name] = tm
		}
		tm.Start(now)
		elapsed := tm.Elapsed(now)

		obs := Observation{
			Object:     name,
			Class:      d.Class,
			Confidence: d.Confidence,
			Box:        d.Box,
			Elapsed:    elapsed,
			Violation:  elapsed >= t.params.Dwell,
		}
		if obs.Violation {
			obs.Emit = t.markEmitted(name, int(elapsed.Seconds()))
		}
		out = append(out, obs)
	}

	if t.keys > t.params.DedupLimit {
		t.emitted = make(map[string]map[int]struct{})
		t.keys = 0
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Object < out[j].Object })
	return out
}

// Elapsed returns the current dwell time of an object, or 0 if it is not in view.
func (t *Tracker) Elapsed(name string, now time.Time) time.Duration {
	if tm, ok := t.timers[name]; ok {
		return tm.Elapsed(now)
	}
	return 0
}

// Dwell returns the configured violation threshold.
func (t *Tracker) Dwell() time.Duration { return t.params.Dwell }

// Reset clears every timer and emitted key.
func (t *Tracker) Reset() {
	t.timers = make(map[string]*gaze.Timer)
	t.emitted = make(map[string]map[int]struct{})
	t.keys = 0
}

// markEmitted records that name was reported at the given elapsed second and
// reports whether it had not been before.
func (t *Tracker) markEmitted(name string, second int) bool {
	seconds, ok := t.emitted[name]
	if !ok {
		seconds = make(map[int]struct{})
		t.emitted[name] = seconds
	}
	if _, done := seconds[second]; done {
		return false
	}
	seconds[second] = struct{}{}
	t.keys++
	return true
}

func (t *Tracker) forget(name string) {
	t.keys -= len(t.emitted[name])
	delete(t.emitted, name)
}
