package services

import (
	"context"
	"sync"

	"proctor-go/internal/events"
	"proctor-go/internal/proctor"

	"go.uber.org/zap"
)

// AlertService notifies reviewers the first time a session reaches a
// CHEATING-level event. It is a proctor.Sink.
type AlertService struct {
	log *zap.Logger

	mu      sync.Mutex
	alerted map[string]struct{}
	notify  func(sessionID string, ev events.Event)
}

func NewAlertService(log *zap.Logger) *AlertService {
	s := &AlertService{
		log:     log,
		alerted: make(map[string]struct{}),
	}
	s.notify = s.logAlert
	return s
}

func (s *AlertService) SessionStarted(context.Context, proctor.Info) error { return nil }

// SessionEnded forgets the session so its id can be reused by a later alert.
func (s *AlertService) SessionEnded(_ context.Context, sum proctor.Summary) error {
	s.mu.Lock()
	delete(s.alerted, sum.SessionID)
	s.mu.Unlock()
	return nil
}

func (s *AlertService) EventRecorded(_ context.Context, sessionID string, ev events.Event, _ string) error {
	if ev.Severity() != events.SeverityCheating {
		return nil
	}
	s.mu.Lock()
	_, done := s.alerted[sessionID]
	s.alerted[sessionID] = struct{}{}
	s.mu.Unlock()
	if !done {
		s.notify(sessionID, ev)
	}
	return nil
}

// logAlert stands in for a reviewer notification channel.
func (s *AlertService) logAlert(sessionID string, ev events.Event) {
	s.log.Warn("Reviewer alert: cheating detected",
		zap.String("session_id", sessionID),
		zap.String("event", string(ev.Kind())),
		zap.String("reason", ev.Reason()),
		zap.Time("at", ev.OccurredAt()))
}
