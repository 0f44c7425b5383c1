// Package proctor runs proctoring sessions: it sequences perception, gaze
// and object analysis per frame and keeps each session's event log.
package proctor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"proctor-go/internal/events"
	"proctor-go/internal/evidence"
	"proctor-go/internal/perception"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session has ended")
)

// EvidenceItem is one entry of an evidence query. Browser events carry no
// image.
type EvidenceItem struct {
	Confidence float64
	Reason     string
	EventType  string
	Timestamp  time.Time
	Image      []byte
}

// Service is the session orchestrator.
type Service struct {
	store    *Store
	provider perception.Provider
	evidence EvidenceStore
	sink     Sink
	history  History
	params   func() Params
	log      *zap.Logger
}

// NewService wires the orchestrator. params is consulted for every new
// session; sink and history may be nil.
func NewService(store *Store, provider perception.Provider, ev EvidenceStore, sink Sink, history History, params func() Params, log *zap.Logger) *Service {
	if sink == nil {
		sink = MultiSink{}
	}
	return &Service{
		store:    store,
		provider: provider,
		evidence: ev,
		sink:     sink,
		history:  history,
		params:   params,
		log:      log,
	}
}

// Start opens a new session in the CALIBRATING state.
func (s *Service) Start(ctx context.Context, subjectID, assessmentID string, now time.Time) (Info, error) {
	info := Info{
		SessionID:    uuid.NewString(),
		SubjectID:    subjectID,
		AssessmentID: assessmentID,
		StartTime:    now.UTC(),
	}
	s.store.Create(newSession(info, s.params()))

	s.log.Info("Proctoring session started",
		zap.String("session_id", info.SessionID),
		zap.String("subject_id", subjectID),
		zap.String("assessment_id", assessmentID))
	if err := s.sink.SessionStarted(ctx, info); err != nil {
		s.log.Error("Failed to publish session start", zap.String("session_id", info.SessionID), zap.Error(err))
	}
	return info, nil
}

// ProcessFrame classifies one frame. Only unknown or ended sessions are
// errors; perception and storage problems degrade the frame instead.
func (s *Service) ProcessFrame(ctx context.Context, id string, f perception.Frame, withAnnotation bool) (Classification, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return Classification{}, err
	}

	sess.mu.Lock()
	if sess.phase == Ended {
		sess.mu.Unlock()
		return Classification{}, ErrSessionEnded
	}
	sess.frames++
	run := &frameRun{
		svc:   s,
		sess:  sess,
		frame: f,
		log:   s.log.With(zap.String("session_id", id), zap.Uint64("seq", f.Seq)),
	}
	var res Classification
	if sess.phase == Calibrating {
		res = run.calibrate(ctx)
	} else {
		res = run.track(ctx)
	}
	sess.mu.Unlock()

	for _, rec := range run.recorded {
		if err := s.sink.EventRecorded(ctx, id, rec.ev, rec.path); err != nil {
			s.log.Error("Failed to publish event", zap.String("session_id", id), zap.Error(err))
		}
	}
	if withAnnotation {
		res.Annotated = run.annotated()
	}
	return res, nil
}

// End closes a session and returns its summary.
func (s *Service) End(ctx context.Context, id string, now time.Time) (Summary, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return Summary{}, err
	}

	sess.mu.Lock()
	if sess.phase == Ended {
		sess.mu.Unlock()
		return Summary{}, ErrSessionEnded
	}
	sess.phase = Ended
	sum := sess.summary(now.UTC())
	browser := sess.browserEvents()
	sess.mu.Unlock()

	s.store.Remove(id, now, browser)
	s.log.Info("Proctoring session ended",
		zap.String("session_id", id),
		zap.Int("total_frames", sum.TotalFrames),
		zap.Int("total_events", sum.TotalEvents),
		zap.Int("cheating_events", sum.CheatingEvents))
	if err := s.sink.SessionEnded(ctx, sum); err != nil {
		s.log.Error("Failed to publish session end", zap.String("session_id", id), zap.Error(err))
	}
	return sum, nil
}

// RecordBrowserEvent appends a client-reported violation to the session log.
func (s *Service) RecordBrowserEvent(ctx context.Context, id string, typ events.BrowserEventType, at time.Time) error {
	ev := events.BrowserViolation{Type: typ, At: at.UTC()}
	if err := s.appendEvent(id, ev); err != nil {
		return err
	}
	s.log.Info("Browser violation recorded", zap.String("session_id", id), zap.String("type", string(typ)))
	if err := s.sink.EventRecorded(ctx, id, ev, ""); err != nil {
		s.log.Error("Failed to publish browser event", zap.String("session_id", id), zap.Error(err))
	}
	return nil
}

func (s *Service) appendEvent(id string, ev events.Event) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.phase == Ended {
		return ErrSessionEnded
	}
	sess.log = append(sess.log, ev)
	return nil
}

// Heartbeat marks the client as alive and re-arms heartbeat loss detection.
func (s *Service) Heartbeat(id string, at time.Time) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.phase == Ended {
		return ErrSessionEnded
	}
	if at.After(sess.lastHeartbeat) {
		sess.lastHeartbeat = at
	}
	sess.heartbeatLost = false
	return nil
}

// CheckHeartbeats records one HEARTBEAT_LOST violation for every session
// whose client has been silent longer than its timeout. It returns the
// number of sessions flagged.
func (s *Service) CheckHeartbeats(ctx context.Context, now time.Time) int {
	flagged := 0
	for _, sess := range s.store.Active() {
		sess.mu.Lock()
		timeout := sess.params.HeartbeatTimeout
		if sess.phase == Ended || sess.heartbeatLost || timeout <= 0 || now.Sub(sess.lastHeartbeat) <= timeout {
			sess.mu.Unlock()
			continue
		}
		sess.heartbeatLost = true
		ev := events.BrowserViolation{Type: events.HeartbeatLost, At: now.UTC()}
		sess.log = append(sess.log, ev)
		silent := now.Sub(sess.lastHeartbeat)
		sess.mu.Unlock()

		flagged++
		s.log.Warn("Client heartbeat lost",
			zap.String("session_id", sess.SessionID),
			zap.Duration("silent_for", silent))
		if err := s.sink.EventRecorded(ctx, sess.SessionID, ev, ""); err != nil {
			s.log.Error("Failed to publish heartbeat loss", zap.String("session_id", sess.SessionID), zap.Error(err))
		}
	}
	return flagged
}

// PruneEnded forgets sessions that ended before cutoff.
func (s *Service) PruneEnded(cutoff time.Time) int {
	ids := s.store.Prune(cutoff)
	for _, id := range ids {
		s.evidence.Release(id)
	}
	return len(ids)
}

// Evidence returns the retained screenshots of a session merged with its
// browser violations, most confident first.
func (s *Service) Evidence(ctx context.Context, id string) ([]EvidenceItem, error) {
	known := false
	var browser []events.BrowserViolation
	if sess, err := s.store.Get(id); err == nil {
		known = true
		sess.mu.Lock()
		browser = sess.browserEvents()
		sess.mu.Unlock()
	} else if t, ok := s.store.endedSession(id); ok {
		known = true
		browser = t.browser
	}

	if s.history != nil {
		persisted, err := s.history.BrowserEvents(ctx, id)
		if err != nil {
			s.log.Warn("Failed to load persisted browser events, using in-memory log", zap.String("session_id", id), zap.Error(err))
		} else {
			browser = persisted
			if !known {
				if known, err = s.history.SessionKnown(ctx, id); err != nil {
					s.log.Warn("Failed to look up session", zap.String("session_id", id), zap.Error(err))
				}
			}
		}
	}

	stored, err := s.evidence.List(id)
	if errors.Is(err, evidence.ErrInvalidSession) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	if !known && len(stored) == 0 {
		return nil, ErrSessionNotFound
	}

	items := make([]EvidenceItem, 0, len(stored)+len(browser))
	for _, e := range stored {
		data, err := s.evidence.ReadImage(id, e)
		if err != nil {
			s.log.Warn("Evidence image missing", zap.String("session_id", id), zap.String("path", e.Path), zap.Error(err))
			continue
		}
		items = append(items, EvidenceItem{
			Confidence: e.Confidence,
			Reason:     e.Reason,
			EventType:  e.EventType,
			Timestamp:  e.Timestamp,
			Image:      data,
		})
	}
	for _, b := range browser {
		items = append(items, EvidenceItem{
			Confidence: b.Confidence(),
			Reason:     b.Reason(),
			EventType:  string(b.Type),
			Timestamp:  b.At,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Confidence > items[j].Confidence })
	return items, nil
}

// ClearEvidence deletes every stored capture of a session. Sessions that
// are neither live, recently ended, persisted nor holding captures are not
// found.
func (s *Service) ClearEvidence(ctx context.Context, id string) error {
	if !s.sessionKnown(ctx, id) {
		stored, err := s.evidence.List(id)
		if errors.Is(err, evidence.ErrInvalidSession) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("list evidence: %w", err)
		}
		if len(stored) == 0 {
			return ErrSessionNotFound
		}
	}
	err := s.evidence.Clear(id)
	if errors.Is(err, evidence.ErrInvalidSession) {
		return ErrSessionNotFound
	}
	return err
}

// sessionKnown reports whether id is live, recently ended or persisted.
func (s *Service) sessionKnown(ctx context.Context, id string) bool {
	if _, err := s.store.Get(id); err == nil || errors.Is(err, ErrSessionEnded) {
		return true
	}
	if s.history == nil {
		return false
	}
	known, err := s.history.SessionKnown(ctx, id)
	if err != nil {
		s.log.Warn("Failed to look up session", zap.String("session_id", id), zap.Error(err))
	}
	return known
}

// ActiveSessions returns the number of live sessions.
func (s *Service) ActiveSessions() int {
	return len(s.store.Active())
}

// Events returns the event log of a live session.
func (s *Service) Events(id string) ([]events.Event, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Events(), nil
}
