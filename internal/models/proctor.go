package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ProctorSession is one monitored candidate+assessment pairing.
type ProctorSession struct {
	ID               string `gorm:"primaryKey;type:uuid"`
	SubjectID        string `gorm:"index"`
	AssessmentID     string `gorm:"index"`
	StartTime        time.Time
	EndTime          *time.Time // nil while active
	TotalFrames      int
	TotalEvents      int
	SuspiciousEvents int
	CheatingEvents   int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProctorEvent is one emitted event of a session.
type ProctorEvent struct {
	ID         uuid.UUID      `gorm:"primaryKey;type:uuid"`
	SessionID  string         `gorm:"type:uuid;not null"`
	Session    ProctorSession `gorm:"foreignKey:SessionID"`
	Kind       string
	Level      string
	Reason     string
	Confidence float64
	Detail     string          // object name or browser event type
	Metrics    pq.Float64Array `gorm:"type:double precision[]"`
	RawData    json.RawMessage `gorm:"type:jsonb"`
	ImagePath  *string         // Pointer to allow null
	OccurredAt time.Time
	CreatedAt  time.Time
}
