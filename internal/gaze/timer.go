package gaze

import "time"

// Timer measures how long a condition has held without interruption.
type Timer struct {
	start   time.Time
	running bool
}

// Start begins timing at now unless the timer is already running.
func (t *Timer) Start(now time.Time) {
	if !t.running {
		t.start = now
		t.running = true
	}
}

// Reset stops the timer and clears its start.
func (t *Timer) Reset() {
	t.start = time.Time{}
	t.running = false
}

func (t *Timer) Running() bool { return t.running }

// Elapsed is now minus start while running, else 0.
func (t *Timer) Elapsed(now time.Time) time.Duration {
	if !t.running || now.Before(t.start) {
		return 0
	}
	return now.Sub(t.start)
}

// Thresholds maps dwell time to severity.
type Thresholds struct {
	SuspiciousAfter time.Duration
	CheatingAfter   time.Duration
}

// TierFor classifies the elapsed time of an AWAY episode.
func (th Thresholds) TierFor(elapsed time.Duration) Tier {
	switch {
	case elapsed > th.CheatingAfter:
		return TierCheating
	case elapsed > th.SuspiciousAfter:
		return TierSuspicious
	default:
		return TierLookingAway
	}
}

// Confidence grows linearly with dwell time and saturates at the cheating
// threshold.
func (th Thresholds) Confidence(elapsed time.Duration) float64 {
	if th.CheatingAfter <= 0 {
		return 1
	}
	c := float64(elapsed) / float64(th.CheatingAfter)
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}

// Episode tracks a continuous AWAY episode so each severity tier is reported
// at most once.
type Episode struct {
	Thresholds Thresholds

	timer   Timer
	emitted Tier
}

// Observation is the outcome of one Episode update.
type Observation struct {
	Tier    Tier
	Elapsed time.Duration
	// Emit is set when Tier is reported for the first time in this episode.
	Emit bool
}

// Update advances the episode with the debounced state at now.
func (e *Episode) Update(state State, now time.Time) Observation {
	if state != Away {
		e.timer.Reset()
		e.emitted = TierNone
		return Observation{Tier: TierNone}
	}
	e.timer.Start(now)
	elapsed := e.timer.Elapsed(now)
	tier := e.Thresholds.TierFor(elapsed)
	obs := Observation{Tier: tier, Elapsed: elapsed}
	if tier >= TierSuspicious && tier > e.emitted {
		e.emitted = tier
		obs.Emit = true
	}
	return obs
}

func (e *Episode) Elapsed(now time.Time) time.Duration { return e.timer.Elapsed(now) }
