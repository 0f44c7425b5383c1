package handlers

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestDecodeBase64Image(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xe0}
	enc := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"raw", enc, false},
		{"data url", "data:image/jpeg;base64," + enc, false},
		{"surrounding whitespace", "\n" + enc + " ", false},
		{"empty", "", true},
		{"invalid", "not base64!", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeBase64Image(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(raw) {
				t.Errorf("decoded %x, want %x", got, raw)
			}
		})
	}
}

func TestGenerateTimelineChart(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	points := []timelinePoint{
		{At: t0, Kind: "GAZE_AWAY", Confidence: 0.85},
		{At: t0.Add(time.Second), Kind: "TAB_SWITCH", Confidence: 1},
		{At: t0.Add(2 * time.Second), Kind: "GAZE_AWAY", Confidence: 0.95},
	}
	chart := generateTimelineChart(points)

	if len(chart.MultiSeries) != 2 {
		t.Fatalf("series = %d, want one per kind", len(chart.MultiSeries))
	}
	if chart.MultiSeries[0].Name != "GAZE_AWAY" || chart.MultiSeries[1].Name != "TAB_SWITCH" {
		t.Errorf("series order = %s, %s", chart.MultiSeries[0].Name, chart.MultiSeries[1].Name)
	}
	if chart.Title.Title != "Event Timeline" {
		t.Errorf("title = %q", chart.Title.Title)
	}
}
