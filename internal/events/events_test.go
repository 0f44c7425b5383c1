package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestEventKinds(t *testing.T) {
	tests := []struct {
		name       string
		ev         Event
		kind       Kind
		severity   Severity
		confidence float64
		detail     string
	}{
		{"gaze", GazeAversion{Level: SeveritySuspicious, Duration: 6 * time.Second, Score: 0.6, At: t0}, KindGazeAversion, SeveritySuspicious, 0.6, ""},
		{"object", ForbiddenObject{Object: "mobile_phone", Duration: 3 * time.Second, Detection: 0.9, At: t0}, KindForbiddenObject, SeverityCheating, 1, "mobile_phone"},
		{"browser", BrowserViolation{Type: TabSwitch, At: t0}, KindBrowserViolation, SeverityHigh, 1, "TAB_SWITCH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ev.Kind() != tt.kind || tt.ev.Severity() != tt.severity {
				t.Errorf("got %s/%s, want %s/%s", tt.ev.Kind(), tt.ev.Severity(), tt.kind, tt.severity)
			}
			if tt.ev.Confidence() != tt.confidence {
				t.Errorf("confidence = %v, want %v", tt.ev.Confidence(), tt.confidence)
			}
			if Detail(tt.ev) != tt.detail {
				t.Errorf("detail = %q, want %q", Detail(tt.ev), tt.detail)
			}
			if len(Metrics(tt.ev)) != 4 {
				t.Errorf("metrics vector has %d entries", len(Metrics(tt.ev)))
			}
		})
	}
}

func TestMarshal(t *testing.T) {
	data, err := Marshal(GazeAversion{
		Level:     SeverityCheating,
		Duration:  11*time.Second + 123*time.Millisecond,
		Yaw:       12.346,
		Deviation: 21.5,
		Score:     1,
		At:        t0,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["event"] != "GAZE_AVERSION" || got["level"] != "CHEATING" {
		t.Errorf("unexpected header fields: %s", data)
	}
	if got["duration"] != 11.12 || got["yaw"] != 12.35 {
		t.Errorf("metrics not rounded: %s", data)
	}
	if _, ok := got["object"]; ok {
		t.Errorf("gaze event should not carry object: %s", data)
	}

	data, _ = Marshal(BrowserViolation{Type: WindowBlur, At: t0})
	if !strings.Contains(string(data), `"type":"WINDOW_BLUR"`) || strings.Contains(string(data), "duration") {
		t.Errorf("unexpected browser record: %s", data)
	}
}

func TestParseBrowserEventType(t *testing.T) {
	for _, s := range []string{"TAB_SWITCH", "EXIT_FULLSCREEN", "WINDOW_BLUR"} {
		if _, err := ParseBrowserEventType(s); err != nil {
			t.Errorf("ParseBrowserEventType(%q): %v", s, err)
		}
	}
	for _, s := range []string{"HEARTBEAT_LOST", "tab_switch", ""} {
		if _, err := ParseBrowserEventType(s); err == nil {
			t.Errorf("ParseBrowserEventType(%q) should fail", s)
		}
	}
}
