package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsbotics/opsbot/internal/types"
)

func sample(value float64) types.MetricSample {
	return types.MetricSample{
		Timestamp: time.Now(),
		TargetID:  "test-container",
		Value:     value,
	}
}

func feed(d *Detector, values []float64) []Event {
	events := make([]Event, 0, len(values))
	for _, v := range values {
		events = append(events, d.Observe(sample(v)))
	}
	return events
}

func TestRequiredSamples(t *testing.T) {
	tests := []struct {
		name      string
		sustained time.Duration
		poll      time.Duration
		want      int
	}{
		{"exact multiple", 120 * time.Second, 30 * time.Second, 4},
		{"rounds up", 100 * time.Second, 30 * time.Second, 4},
		{"single sample", 10 * time.Second, 30 * time.Second, 1},
		{"zero sustained", 0, 30 * time.Second, 1},
		{"zero poll", 120 * time.Second, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(80, tt.sustained, tt.poll)
			assert.Equal(t, tt.want, d.RequiredSamples())
		})
	}
}

// TestBreachRequiresSustainedRun verifies the debounce: a breach fires on the
// sample that completes the sustained duration and never on a shorter run.
func TestBreachRequiresSustainedRun(t *testing.T) {
	d := New(80, 120*time.Second, 30*time.Second)

	// Spec scenario: 5 consecutive samples over threshold=80, breach fires on
	// the 4th (120s of polling at 30s covered).
	events := feed(d, []float64{82, 85, 90, 88, 91})
	assert.Equal(t, []Event{EventNone, EventNone, EventNone, EventBreach, EventNone}, events)
	assert.True(t, d.Breached())
}

func TestShortRunsNeverFire(t *testing.T) {
	d := New(80, 120*time.Second, 30*time.Second)

	// Three breaching samples, then a dip, then three more: the dip resets
	// the streak so no breach ever fires.
	events := feed(d, []float64{85, 90, 88, 40, 85, 90, 88})
	for i, ev := range events {
		assert.Equal(t, EventNone, ev, "sample %d should not fire", i)
	}
	assert.False(t, d.Breached())
}

func TestBreachFiresOnceUntilCleared(t *testing.T) {
	d := New(80, 60*time.Second, 30*time.Second)

	events := feed(d, []float64{90, 90, 90, 90, 90})
	breaches := 0
	for _, ev := range events {
		if ev == EventBreach {
			breaches++
		}
	}
	assert.Equal(t, 1, breaches, "breach must fire exactly once per episode")
}

func TestClearRequiresSustainedRecovery(t *testing.T) {
	d := New(80, 60*time.Second, 30*time.Second) // 2 samples required

	require.Equal(t, EventNone, d.Observe(sample(90)))
	require.Equal(t, EventBreach, d.Observe(sample(95)))

	// One sample below threshold is not enough, and a bounce back over
	// threshold resets the recovery streak.
	assert.Equal(t, EventNone, d.Observe(sample(50)))
	assert.Equal(t, EventNone, d.Observe(sample(85)))
	assert.True(t, d.Breached())

	// Two consecutive samples below threshold clear the breach.
	assert.Equal(t, EventNone, d.Observe(sample(40)))
	assert.Equal(t, EventClear, d.Observe(sample(42)))
	assert.False(t, d.Breached())
}

func TestClearNeverFiresWithoutBreach(t *testing.T) {
	d := New(80, 60*time.Second, 30*time.Second)

	events := feed(d, []float64{10, 20, 15, 12, 18, 25})
	for i, ev := range events {
		assert.Equal(t, EventNone, ev, "sample %d should not fire", i)
	}
}

func TestThresholdIsInclusive(t *testing.T) {
	d := New(80, 30*time.Second, 30*time.Second) // 1 sample required

	// A sample exactly at threshold counts as breaching.
	assert.Equal(t, EventBreach, d.Observe(sample(80)))
}

func TestBreachCanRefireAfterClear(t *testing.T) {
	d := New(80, 30*time.Second, 30*time.Second)

	require.Equal(t, EventBreach, d.Observe(sample(90)))
	require.Equal(t, EventClear, d.Observe(sample(10)))
	assert.Equal(t, EventBreach, d.Observe(sample(90)))
}

func TestSeedBreached(t *testing.T) {
	d := New(80, 60*time.Second, 30*time.Second) // 2 samples required

	d.SeedBreached()
	require.True(t, d.Breached())

	// A sustained recovery clears even though no breach was observed.
	assert.Equal(t, EventNone, d.Observe(sample(40)))
	assert.Equal(t, EventClear, d.Observe(sample(42)))
}

func TestReset(t *testing.T) {
	d := New(80, 60*time.Second, 30*time.Second)

	feed(d, []float64{90, 90})
	require.True(t, d.Breached())

	d.Reset()
	assert.False(t, d.Breached())

	// After reset the full debounce is required again.
	assert.Equal(t, EventNone, d.Observe(sample(90)))
	assert.Equal(t, EventBreach, d.Observe(sample(90)))
}
