package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitDefaults(t *testing.T) {
	cfg, err := Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := cfg.Proctoring
	if p.CalibrationFrames != 90 || p.BaselineWindow != 30 || p.LeftMultiplier != 1.5 || p.AwayThreshold != 5 {
		t.Errorf("unexpected proctoring defaults %+v", p)
	}
	if p.EntryWindow != time.Second || p.ExitWindow != 500*time.Millisecond || p.CheatingAfter != 10*time.Second {
		t.Errorf("unexpected window defaults %+v", p)
	}
	if cfg.Evidence.TopK != 10 || cfg.Evidence.MinConfidence != 0.8 {
		t.Errorf("unexpected evidence defaults %+v", cfg.Evidence)
	}
	if cfg.Objects.Dwell != 3*time.Second || cfg.MQTT.Broker != "" {
		t.Errorf("unexpected defaults %+v %+v", cfg.Objects, cfg.MQTT)
	}
	if cfg.Perception.Command != "" {
		t.Errorf("perception.command = %q, want empty so the service starts without a worker", cfg.Perception.Command)
	}
	if Current() != cfg {
		t.Error("Current does not return the loaded configuration")
	}
}

func TestInitFileAndEnv(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "config"), 0755); err != nil {
		t.Fatal(err)
	}
	yaml := "proctoring:\n  calibration_frames: 45\n  exit_fraction: 0.75\nobjects:\n  dwell: 2s\n"
	if err := os.WriteFile(filepath.Join(root, "config", "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROCTOR_EVIDENCE_TOP_K", "5")

	cfg, err := Init(root)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Proctoring.CalibrationFrames != 45 || cfg.Proctoring.ExitFraction != 0.75 {
		t.Errorf("file values not applied: %+v", cfg.Proctoring)
	}
	if cfg.Objects.Dwell != 2*time.Second {
		t.Errorf("dwell = %v, want 2s", cfg.Objects.Dwell)
	}
	if cfg.Evidence.TopK != 5 {
		t.Errorf("top_k = %d, want 5 from the environment", cfg.Evidence.TopK)
	}
}

func TestValidate(t *testing.T) {
	base, err := Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"no warm-up", func(c *Config) { c.Proctoring.CalibrationFrames = 0 }, "calibration_frames"},
		{"alpha too large", func(c *Config) { c.Proctoring.SmoothingAlpha = 1.2 }, "smoothing_alpha"},
		{"tiers inverted", func(c *Config) { c.Proctoring.CheatingAfter = c.Proctoring.SuspiciousAfter }, "cheating_after"},
		{"no evidence", func(c *Config) { c.Evidence.TopK = 0 }, "top_k"},
		{"bad min confidence", func(c *Config) { c.Evidence.MinConfidence = 2 }, "min_confidence"},
		{"no dwell", func(c *Config) { c.Objects.Dwell = 0 }, "dwell"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			switch {
			case tt.want == "" && err != nil:
				t.Errorf("unexpected error %v", err)
			case tt.want != "" && (err == nil || !strings.Contains(err.Error(), tt.want)):
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
