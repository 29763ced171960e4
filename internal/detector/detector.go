// Package detector implements threshold anomaly detection with a
// sustained-duration debounce. The detector is a pure hysteresis counter over
// the sample stream: it knows nothing about incidents or remediation, which
// keeps it independently testable.
package detector

import (
	"time"

	"github.com/opsbotics/opsbot/internal/types"
)

// Event is the detector's verdict for a single observed sample
type Event int

const (
	// EventNone means the sample did not change the detector's view
	EventNone Event = iota
	// EventBreach fires once the metric has been at or above threshold
	// continuously for the sustained duration
	EventBreach
	// EventClear fires once the metric has been below threshold continuously
	// for the sustained duration after a breach
	EventClear
)

func (e Event) String() string {
	switch e {
	case EventBreach:
		return "breach"
	case EventClear:
		return "clear"
	default:
		return "none"
	}
}

// Detector tracks consecutive-sample streaks for one target. Each monitored
// target owns its own Detector; instances are not safe for concurrent use.
type Detector struct {
	threshold float64
	required  int // consecutive samples needed to fire

	overStreak  int
	underStreak int
	breached    bool // breach emitted, no clear emitted yet
}

// New creates a detector that fires after the over/under-threshold condition
// has held for sustained across samples spaced pollInterval apart. Each sample
// counts for one polling interval, so sustained=120s at a 30s cadence fires on
// the 4th consecutive breaching sample.
func New(threshold float64, sustained, pollInterval time.Duration) *Detector {
	required := 1
	if pollInterval > 0 && sustained > 0 {
		required = int(sustained / pollInterval)
		if sustained%pollInterval != 0 {
			required++
		}
		if required < 1 {
			required = 1
		}
	}
	return &Detector{
		threshold: threshold,
		required:  required,
	}
}

// RequiredSamples returns the debounce length in samples
func (d *Detector) RequiredSamples() int {
	return d.required
}

// Breached reports whether the detector is currently in the breach regime
// (a breach was emitted and no clear has followed)
func (d *Detector) Breached() bool {
	return d.breached
}

// Observe consumes one sample and returns at most one event. Any sample that
// breaks a run resets the opposite streak, so short blips in either direction
// restart the debounce clock.
func (d *Detector) Observe(sample types.MetricSample) Event {
	if sample.Value >= d.threshold {
		d.overStreak++
		d.underStreak = 0
		if !d.breached && d.overStreak >= d.required {
			d.breached = true
			return EventBreach
		}
		return EventNone
	}

	d.underStreak++
	d.overStreak = 0
	if d.breached && d.underStreak >= d.required {
		d.breached = false
		return EventClear
	}
	return EventNone
}

// SeedBreached puts the detector into the breach regime without a debounce
// run. Used when resuming an in-flight incident after a restart, so that a
// sustained recovery can still emit a clear.
func (d *Detector) SeedBreached() {
	d.breached = true
	d.overStreak = 0
	d.underStreak = 0
}

// Reset clears all streak state, returning the detector to its initial view
func (d *Detector) Reset() {
	d.overStreak = 0
	d.underStreak = 0
	d.breached = false
}
