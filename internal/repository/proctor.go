package repository

import (
	"context"
	"errors"

	"proctor-go/internal/events"
	"proctor-go/internal/models"
	"proctor-go/internal/proctor"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ProctorRepository persists sessions and their events. It is both a
// proctor.Sink and a proctor.History.
type ProctorRepository struct {
	db *gorm.DB
}

func NewProctorRepository(db *gorm.DB) *ProctorRepository {
	return &ProctorRepository{db: db}
}

func (r *ProctorRepository) SessionStarted(ctx context.Context, info proctor.Info) error {
	row := models.ProctorSession{
		ID:           info.SessionID,
		SubjectID:    info.SubjectID,
		AssessmentID: info.AssessmentID,
		StartTime:    info.StartTime,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *ProctorRepository) SessionEnded(ctx context.Context, s proctor.Summary) error {
	end := s.EndTime
	return r.db.WithContext(ctx).Model(&models.ProctorSession{}).
		Where("id = ?", s.SessionID).
		Updates(map[string]interface{}{
			"end_time":          &end,
			"total_frames":      s.TotalFrames,
			"total_events":      s.TotalEvents,
			"suspicious_events": s.SuspiciousEvents,
			"cheating_events":   s.CheatingEvents,
		}).Error
}

func (r *ProctorRepository) EventRecorded(ctx context.Context, sessionID string, ev events.Event, evidencePath string) error {
	row, err := newEventRow(sessionID, ev, evidencePath)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Omit("Session").Create(&row).Error
}

func newEventRow(sessionID string, ev events.Event, evidencePath string) (models.ProctorEvent, error) {
	raw, err := events.Marshal(ev)
	if err != nil {
		return models.ProctorEvent{}, err
	}
	row := models.ProctorEvent{
		ID:         uuid.New(),
		SessionID:  sessionID,
		Kind:       string(ev.Kind()),
		Level:      string(ev.Severity()),
		Reason:     ev.Reason(),
		Confidence: ev.Confidence(),
		Detail:     events.Detail(ev),
		Metrics:    pq.Float64Array(events.Metrics(ev)),
		RawData:    raw,
		OccurredAt: ev.OccurredAt().UTC(),
	}
	if evidencePath != "" {
		row.ImagePath = &evidencePath
	}
	return row, nil
}

// BrowserEvents returns the persisted browser violations of a session in
// the order they occurred.
func (r *ProctorRepository) BrowserEvents(ctx context.Context, sessionID string) ([]events.BrowserViolation, error) {
	var rows []models.ProctorEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND kind = ?", sessionID, string(events.KindBrowserViolation)).
		Order("occurred_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]events.BrowserViolation, 0, len(rows))
	for _, row := range rows {
		out = append(out, events.BrowserViolation{Type: events.BrowserEventType(row.Detail), At: row.OccurredAt})
	}
	return out, nil
}

func (r *ProctorRepository) SessionKnown(ctx context.Context, sessionID string) (bool, error) {
	var row models.ProctorSession
	err := r.db.WithContext(ctx).Select("id").First(&row, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SessionTimeline returns every persisted event of a session with its
// metrics, oldest first. The review page charts it.
func (r *ProctorRepository) SessionTimeline(ctx context.Context, sessionID string) ([]models.ProctorEvent, error) {
	var rows []models.ProctorEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("occurred_at").
		Find(&rows).Error
	return rows, err
}
