// Package events defines the records appended to a session's event log.
package events

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type Kind string

const (
	KindGazeAversion     Kind = "GAZE_AVERSION"
	KindForbiddenObject  Kind = "FORBIDDEN_OBJECT"
	KindBrowserViolation Kind = "BROWSER_VIOLATION"
)

type Severity string

const (
	SeveritySuspicious Severity = "SUSPICIOUS"
	SeverityCheating   Severity = "CHEATING"
	SeverityHigh       Severity = "HIGH"
)

// BrowserEventType is a discrete signal reported by the test-taking client
// or raised by the heartbeat watchdog.
type BrowserEventType string

const (
	TabSwitch      BrowserEventType = "TAB_SWITCH"
	ExitFullscreen BrowserEventType = "EXIT_FULLSCREEN"
	WindowBlur     BrowserEventType = "WINDOW_BLUR"
	HeartbeatLost  BrowserEventType = "HEARTBEAT_LOST"
)

// ParseBrowserEventType accepts the event types a client may report.
// HEARTBEAT_LOST is raised server-side only.
func ParseBrowserEventType(s string) (BrowserEventType, error) {
	switch t := BrowserEventType(s); t {
	case TabSwitch, ExitFullscreen, WindowBlur:
		return t, nil
	}
	return "", fmt.Errorf("unknown browser event %q", s)
}

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	Severity() Severity
	OccurredAt() time.Time
	// Confidence is how certain the event is, in [0, 1].
	Confidence() float64
	Reason() string
	isEvent()
}

// GazeAversion is a sustained look away from the screen.
type GazeAversion struct {
	Level     Severity
	Duration  time.Duration
	Yaw       float64
	Pitch     float64
	Deviation float64
	Score     float64
	At        time.Time
}

func (e GazeAversion) Kind() Kind            { return KindGazeAversion }
func (e GazeAversion) Severity() Severity    { return e.Level }
func (e GazeAversion) OccurredAt() time.Time { return e.At }
func (e GazeAversion) Confidence() float64   { return e.Score }
func (e GazeAversion) Reason() string {
	return fmt.Sprintf("Gaze away for %.1fs", e.Duration.Seconds())
}
func (GazeAversion) isEvent() {}

// ForbiddenObject is an object that stayed in view past the dwell time.
type ForbiddenObject struct {
	Object    string
	Duration  time.Duration
	Detection float64
	At        time.Time
}

func (e ForbiddenObject) Kind() Kind            { return KindForbiddenObject }
func (e ForbiddenObject) Severity() Severity    { return SeverityCheating }
func (e ForbiddenObject) OccurredAt() time.Time { return e.At }
func (e ForbiddenObject) Confidence() float64   { return 1 }
func (e ForbiddenObject) Reason() string {
	return "Forbidden object detected: " + e.Object
}
func (ForbiddenObject) isEvent() {}

// BrowserViolation is a definitive client-side signal.
type BrowserViolation struct {
	Type BrowserEventType
	At   time.Time
}

func (e BrowserViolation) Kind() Kind            { return KindBrowserViolation }
func (e BrowserViolation) Severity() Severity    { return SeverityHigh }
func (e BrowserViolation) OccurredAt() time.Time { return e.At }
func (e BrowserViolation) Confidence() float64   { return 1 }
func (e BrowserViolation) Reason() string        { return "Browser event: " + string(e.Type) }
func (BrowserViolation) isEvent()                {}

// Detail returns the kind-specific label: the object name, the browser
// event type, or the empty string for gaze events.
func Detail(e Event) string {
	switch ev := e.(type) {
	case ForbiddenObject:
		return ev.Object
	case BrowserViolation:
		return string(ev.Type)
	case GazeAversion:
		return ""
	default:
		panic(fmt.Sprintf("events: unhandled event type %T", e))
	}
}

// Metrics returns [duration seconds, yaw, pitch, deviation]. Fields a kind
// does not carry are zero.
func Metrics(e Event) []float64 {
	switch ev := e.(type) {
	case GazeAversion:
		return []float64{round2(ev.Duration.Seconds()), round2(ev.Yaw), round2(ev.Pitch), round2(ev.Deviation)}
	case ForbiddenObject:
		return []float64{round2(ev.Duration.Seconds()), 0, 0, 0}
	case BrowserViolation:
		return []float64{0, 0, 0, 0}
	default:
		panic(fmt.Sprintf("events: unhandled event type %T", e))
	}
}

// Record is the JSON form of an event.
type Record struct {
	Event      Kind      `json:"event"`
	Level      Severity  `json:"level"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`

	Duration  *float64 `json:"duration,omitempty"`
	Yaw       *float64 `json:"yaw,omitempty"`
	Pitch     *float64 `json:"pitch,omitempty"`
	Deviation *float64 `json:"deviation,omitempty"`
	Object    string   `json:"object,omitempty"`
	Type      string   `json:"type,omitempty"`
}

// ToRecord flattens an event for the wire.
func ToRecord(e Event) Record {
	r := Record{
		Event:      e.Kind(),
		Level:      e.Severity(),
		Reason:     e.Reason(),
		Confidence: e.Confidence(),
		Timestamp:  e.OccurredAt().UTC(),
	}
	switch ev := e.(type) {
	case GazeAversion:
		r.Duration = ptr(round2(ev.Duration.Seconds()))
		r.Yaw = ptr(round2(ev.Yaw))
		r.Pitch = ptr(round2(ev.Pitch))
		r.Deviation = ptr(round2(ev.Deviation))
	case ForbiddenObject:
		r.Duration = ptr(round2(ev.Duration.Seconds()))
		r.Object = ev.Object
	case BrowserViolation:
		r.Type = string(ev.Type)
	default:
		panic(fmt.Sprintf("events: unhandled event type %T", e))
	}
	return r
}

// Marshal encodes an event as JSON.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(ToRecord(e))
}

func ptr(f float64) *float64 { return &f }

func round2(f float64) float64 { return math.Round(f*100) / 100 }
