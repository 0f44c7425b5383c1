package objects

import (
	"testing"
	"time"

	"proctor-go/internal/models"
	"proctor-go/internal/perception"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func at(i int) time.Time { return t0.Add(time.Duration(i) * time.Second / 30) }

func newTracker() *Tracker {
	return NewTracker(models.DefaultObjectCatalog().Names(), Params{
		MinConfidence: 0.5,
		Dwell:         3 * time.Second,
		DedupLimit:    100,
	})
}

func phone(conf float64) perception.Detection {
	return perception.Detection{Class: "cell phone", Confidence: conf, Box: perception.BBox{X1: 10, Y1: 10, X2: 60, Y2: 110}}
}

func TestFilter(t *testing.T) {
	tr := newTracker()
	got := tr.Filter([]perception.Detection{
		phone(0.6),
		phone(0.9),
		{Class: "person", Confidence: 0.99},
		{Class: "book", Confidence: 0.3},
		{Class: "TV", Confidence: 0.7},
	})
	if len(got) != 2 {
		t.Fatalf("got %d objects, want 2: %+v", len(got), got)
	}
	if got["mobile_phone"].Confidence != 0.9 {
		t.Errorf("duplicate classes should keep the most confident, got %v", got["mobile_phone"].Confidence)
	}
	if _, ok := got["screen"]; !ok {
		t.Error("class matching should ignore case")
	}
}

func TestPhoneForFourSecondsEmitsOnce(t *testing.T) {
	tr := newTracker()
	var events []Observation
	// 120 frames at 30fps: elapsed runs from 0 to just under 4s.
	for i := 0; i < 120; i++ {
		for _, obs := range tr.Update(at(i), []perception.Detection{phone(0.9)}) {
			if obs.Emit {
				events = append(events, obs)
			}
		}
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Object != "mobile_phone" || events[0].Elapsed < 3*time.Second {
		t.Errorf("unexpected event %+v", events[0])
	}

	// Gone for a single frame: the timer is deleted, not decayed.
	if obs := tr.Update(at(120), nil); len(obs) != 0 {
		t.Errorf("expected no observations, got %+v", obs)
	}
	if got := tr.Elapsed("mobile_phone", at(120)); got != 0 {
		t.Errorf("elapsed after disappearance = %v, want 0", got)
	}

	obs := tr.Update(at(121), []perception.Detection{phone(0.9)})
	if len(obs) != 1 || obs[0].Elapsed != 0 || obs[0].Violation {
		t.Errorf("reappearance should start a fresh timer, got %+v", obs)
	}
}

func TestContinuingViolationEmitsOncePerSecond(t *testing.T) {
	tr := newTracker()
	emits := 0
	// Elapsed reaches 5.0s on the last frame: seconds 3, 4 and 5.
	for i := 0; i <= 150; i++ {
		for _, obs := range tr.Update(at(i), []perception.Detection{phone(0.8)}) {
			if obs.Emit {
				emits++
			}
		}
	}
	if emits != 3 {
		t.Errorf("got %d emits over 5s, want 3", emits)
	}
}

func TestObjectsAreIndependent(t *testing.T) {
	tr := newTracker()
	book := perception.Detection{Class: "book", Confidence: 0.7}
	tr.Update(at(0), []perception.Detection{phone(0.9)})
	tr.Update(at(30), []perception.Detection{phone(0.9), book})
	obs := tr.Update(at(60), []perception.Detection{phone(0.9), book})

	if len(obs) != 2 || obs[0].Object != "mobile_phone" || obs[1].Object != "paper" {
		t.Fatalf("unexpected observations %+v", obs)
	}
	if obs[0].Elapsed != 2*time.Second || obs[1].Elapsed != time.Second {
		t.Errorf("elapsed = %v / %v, want 2s / 1s", obs[0].Elapsed, obs[1].Elapsed)
	}
}

func TestDedupSetIsBounded(t *testing.T) {
	tr := NewTracker(map[string]string{"cell phone": "mobile_phone"}, Params{
		MinConfidence: 0.5,
		Dwell:         0,
		DedupLimit:    5,
	})
	for i := 0; i < 30*20; i++ {
		tr.Update(at(i), []perception.Detection{phone(0.9)})
		if tr.keys > 5 {
			t.Fatalf("dedup set grew to %d", tr.keys)
		}
	}
}

func TestForgetKeepsOtherObjectsWithSharedPrefix(t *testing.T) {
	tr := NewTracker(map[string]string{"cell phone": "phone", "phone case": "phone_case"}, Params{
		MinConfidence: 0.5,
		Dwell:         0,
		DedupLimit:    100,
	})
	phoneCase := perception.Detection{Class: "phone case", Confidence: 0.9}

	tr.Update(at(0), []perception.Detection{phone(0.9), phoneCase})
	tr.Update(at(15), []perception.Detection{phone(0.9), phoneCase})

	// The phone leaves view; the case stays within the same elapsed second.
	obs := tr.Update(at(20), []perception.Detection{phoneCase})
	if len(obs) != 1 || obs[0].Object != "phone_case" {
		t.Fatalf("unexpected observations %+v", obs)
	}
	if obs[0].Emit {
		t.Error("phone_case was reported twice for the same second after phone left view")
	}
	if _, ok := tr.emitted["phone"]; ok {
		t.Error("phone keys should be dropped with its timer")
	}
	if tr.keys != 1 {
		t.Errorf("keys = %d, want 1", tr.keys)
	}
}
