package proctor

import (
	"context"
	"errors"
	"image"
	"time"

	"proctor-go/internal/events"
	"proctor-go/internal/evidence"
)

// Sink receives session lifecycle notifications and every emitted event.
// Sink errors are logged by the service and never fail a frame.
type Sink interface {
	SessionStarted(ctx context.Context, info Info) error
	SessionEnded(ctx context.Context, summary Summary) error
	// EventRecorded is called once per event. evidencePath is the capture
	// stored on the same frame, or empty.
	EventRecorded(ctx context.Context, sessionID string, ev events.Event, evidencePath string) error
}

// MultiSink fans notifications out to every sink in order.
type MultiSink []Sink

func (m MultiSink) SessionStarted(ctx context.Context, info Info) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SessionStarted(ctx, info))
	}
	return errors.Join(errs...)
}

func (m MultiSink) SessionEnded(ctx context.Context, summary Summary) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SessionEnded(ctx, summary))
	}
	return errors.Join(errs...)
}

func (m MultiSink) EventRecorded(ctx context.Context, sessionID string, ev events.Event, evidencePath string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.EventRecorded(ctx, sessionID, ev, evidencePath))
	}
	return errors.Join(errs...)
}

// History answers evidence queries from persisted records, so browser events
// remain visible after a session ends or the process restarts.
type History interface {
	BrowserEvents(ctx context.Context, sessionID string) ([]events.BrowserViolation, error)
	SessionKnown(ctx context.Context, sessionID string) (bool, error)
}

// EvidenceStore is the retention policy for screenshots.
type EvidenceStore interface {
	Add(sessionID string, img image.Image, confidence float64, reason, eventType string, at time.Time) (string, bool)
	List(sessionID string) ([]evidence.Evidence, error)
	ReadImage(sessionID string, e evidence.Evidence) ([]byte, error)
	Clear(sessionID string) error
	Release(sessionID string)
}
