// Package gaze turns per-frame head and iris measurements into a debounced
// FORWARD/AWAY state and a severity tier for sustained aversion.
package gaze

import "time"

// State is the gaze label of a single frame or of the debounced signal.
type State int

const (
	Unknown State = iota
	Forward
	Away
)

func (s State) String() string {
	switch s {
	case Forward:
		return "FORWARD"
	case Away:
		return "AWAY"
	default:
		return "UNKNOWN"
	}
}

// Tier is the severity of a continuous AWAY episode.
type Tier int

const (
	TierNone Tier = iota
	TierLookingAway
	TierSuspicious
	TierCheating
)

func (t Tier) String() string {
	switch t {
	case TierLookingAway:
		return "LOOKING_AWAY"
	case TierSuspicious:
		return "SUSPICIOUS"
	case TierCheating:
		return "CHEATING"
	default:
		return "NONE"
	}
}

// Frame is the immutable record kept in the sliding window.
type Frame struct {
	Timestamp time.Time
	State     State
	Yaw       float64
	Pitch     float64
}
