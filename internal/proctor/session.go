package proctor

import (
	"sync"
	"time"

	"proctor-go/internal/config"
	"proctor-go/internal/events"
	"proctor-go/internal/gaze"
	"proctor-go/internal/objects"
)

// Phase is the lifecycle state of a session.
type Phase int

const (
	Calibrating Phase = iota
	Active
	Ended
)

func (p Phase) String() string {
	switch p {
	case Calibrating:
		return "CALIBRATING"
	case Active:
		return "ACTIVE"
	default:
		return "ENDED"
	}
}

// Verdict is the per-frame classification label.
type Verdict string

const (
	VerdictCalibrating Verdict = "CALIBRATING"
	VerdictNormal      Verdict = "NORMAL"
	VerdictLookingAway Verdict = "LOOKING_AWAY"
	VerdictSuspicious  Verdict = "SUSPICIOUS"
	VerdictCheating    Verdict = "CHEATING"
)

// Params are the tuning values a session is created with. Reloading the
// configuration affects new sessions only.
type Params struct {
	Proctoring       config.ProctoringConfig
	Objects          config.ObjectsConfig
	Catalog          map[string]string
	HeartbeatTimeout time.Duration
}

// ParamsFrom extracts session parameters from a configuration.
func ParamsFrom(cfg *config.Config, catalog map[string]string) Params {
	return Params{
		Proctoring:       cfg.Proctoring,
		Objects:          cfg.Objects,
		Catalog:          catalog,
		HeartbeatTimeout: cfg.Heartbeat.Timeout,
	}
}

// Info identifies a session.
type Info struct {
	SessionID    string    `json:"session_id"`
	SubjectID    string    `json:"subject_id"`
	AssessmentID string    `json:"assessment_id"`
	StartTime    time.Time `json:"start_time"`
}

// Summary is produced when a session ends.
type Summary struct {
	SessionID        string    `json:"session_id"`
	SubjectID        string    `json:"subject_id"`
	AssessmentID     string    `json:"assessment_id"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	TotalFrames      int       `json:"total_frames"`
	TotalEvents      int       `json:"total_events"`
	SuspiciousEvents int       `json:"suspicious_events"`
	CheatingEvents   int       `json:"cheating_events"`
}

// Session is the mutable state of one candidate's monitoring. All fields
// below mu are guarded by it.
type Session struct {
	Info

	mu     sync.Mutex
	params Params
	phase  Phase
	frames int
	log    []events.Event

	head      *gaze.Calibrator
	iris      *gaze.Calibrator
	deviation *gaze.DeviationTracker
	smoother  *gaze.Smoother
	episode   gaze.Episode
	objects   *objects.Tracker

	lastHeartbeat time.Time
	heartbeatLost bool
}

func newSession(info Info, p Params) *Session {
	pc := p.Proctoring
	return &Session{
		Info:   info,
		params: p,
		phase:  Calibrating,
		head:   gaze.NewCalibrator(pc.CalibrationFrames, pc.BaselineWindow),
		iris:   gaze.NewCalibrator(pc.CalibrationFrames, pc.BaselineWindow),
		deviation: gaze.NewDeviationTracker(gaze.DeviationParams{
			LeftMultiplier: pc.LeftMultiplier,
			Alpha:          pc.SmoothingAlpha,
			Threshold:      pc.AwayThreshold,
		}),
		smoother: gaze.NewSmoother(gaze.SmootherParams{
			Capacity:      pc.BufferCapacity,
			EntryWindow:   pc.EntryWindow,
			EntryFraction: pc.EntryFraction,
			ExitWindow:    pc.ExitWindow,
			ExitFraction:  pc.ExitFraction,
		}),
		episode: gaze.Episode{Thresholds: gaze.Thresholds{
			SuspiciousAfter: pc.SuspiciousAfter,
			CheatingAfter:   pc.CheatingAfter,
		}},
		objects: objects.NewTracker(p.Catalog, objects.Params{
			MinConfidence: p.Objects.MinConfidence,
			Dwell:         p.Objects.Dwell,
			DedupLimit:    p.Objects.DedupLimit,
		}),
		lastHeartbeat: info.StartTime,
	}
}

// Phase returns the current lifecycle state.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Events returns a copy of the event log.
func (s *Session) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.log))
	copy(out, s.log)
	return out
}

// Frames returns the number of frames processed so far.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// summary must be called with mu held.
func (s *Session) summary(end time.Time) Summary {
	sum := Summary{
		SessionID:    s.SessionID,
		SubjectID:    s.SubjectID,
		AssessmentID: s.AssessmentID,
		StartTime:    s.StartTime,
		EndTime:      end,
		TotalFrames:  s.frames,
		TotalEvents:  len(s.log),
	}
	for _, ev := range s.log {
		switch ev.Severity() {
		case events.SeveritySuspicious:
			sum.SuspiciousEvents++
		case events.SeverityCheating:
			sum.CheatingEvents++
		}
	}
	return sum
}

// browserEvents must be called with mu held.
func (s *Session) browserEvents() []events.BrowserViolation {
	var out []events.BrowserViolation
	for _, ev := range s.log {
		if bv, ok := ev.(events.BrowserViolation); ok {
			out = append(out, bv)
		}
	}
	return out
}
