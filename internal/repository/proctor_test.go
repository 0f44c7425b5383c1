package repository

import (
	"encoding/json"
	"testing"
	"time"

	"proctor-go/internal/events"
)

func TestNewEventRow(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name      string
		ev        events.Event
		path      string
		kind      string
		level     string
		detail    string
		metrics   []float64
		wantImage bool
	}{
		{
			name:      "gaze aversion with capture",
			ev:        events.GazeAversion{Level: events.SeverityCheating, Duration: 10500 * time.Millisecond, Yaw: -3.456, Pitch: 1.2, Deviation: 22.5, Score: 1, At: at},
			path:      "gaze_aversion_20250301_080000_000000_ab12cd34.jpg",
			kind:      "GAZE_AVERSION",
			level:     "CHEATING",
			metrics:   []float64{10.5, -3.46, 1.2, 22.5},
			wantImage: true,
		},
		{
			name:    "forbidden object",
			ev:      events.ForbiddenObject{Object: "mobile_phone", Duration: 3 * time.Second, Detection: 0.9, At: at},
			kind:    "FORBIDDEN_OBJECT",
			level:   "CHEATING",
			detail:  "mobile_phone",
			metrics: []float64{3, 0, 0, 0},
		},
		{
			name:    "browser violation",
			ev:      events.BrowserViolation{Type: events.TabSwitch, At: at},
			kind:    "BROWSER_VIOLATION",
			level:   "HIGH",
			detail:  "TAB_SWITCH",
			metrics: []float64{0, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := newEventRow("sess-1", tt.ev, tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if row.Kind != tt.kind || row.Level != tt.level || row.Detail != tt.detail {
				t.Errorf("kind/level/detail = %s/%s/%q", row.Kind, row.Level, row.Detail)
			}
			if len(row.Metrics) != len(tt.metrics) {
				t.Fatalf("metrics = %v, want %v", row.Metrics, tt.metrics)
			}
			for i := range tt.metrics {
				if row.Metrics[i] != tt.metrics[i] {
					t.Errorf("metrics[%d] = %v, want %v", i, row.Metrics[i], tt.metrics[i])
				}
			}
			if (row.ImagePath != nil) != tt.wantImage {
				t.Errorf("image path = %v, want set: %v", row.ImagePath, tt.wantImage)
			}
			if row.OccurredAt.Location() != time.UTC || !row.OccurredAt.Equal(at) {
				t.Errorf("occurred at = %v, want %v in UTC", row.OccurredAt, at)
			}
			if row.SessionID != "sess-1" || row.Confidence != tt.ev.Confidence() {
				t.Errorf("unexpected row %+v", row)
			}

			var rec events.Record
			if err := json.Unmarshal(row.RawData, &rec); err != nil {
				t.Fatalf("raw data is not a JSON event record: %v", err)
			}
			if string(rec.Event) != tt.kind {
				t.Errorf("raw event = %s, want %s", rec.Event, tt.kind)
			}
		})
	}
}

func TestNewEventRowIDsAreUnique(t *testing.T) {
	ev := events.BrowserViolation{Type: events.WindowBlur, At: time.Now()}
	a, _ := newEventRow("s", ev, "")
	b, _ := newEventRow("s", ev, "")
	if a.ID == b.ID {
		t.Error("two event rows share an id")
	}
}
