// Package metrics provides the metric sample sources consumed by the control
// loop. One sample is pulled per polling cycle; a failed pull surfaces as a
// missed sample, never as a crash.
package metrics

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/opsbotics/opsbot/internal/types"
)

// ErrNoData is returned when the backend answered but produced no usable value
var ErrNoData = errors.New("no usable metric value")

// Source pulls a single numeric sample for a target. Implementations must
// honor ctx cancellation and deadlines.
type Source interface {
	Sample(ctx context.Context, targetID string) (types.MetricSample, error)
}

// SimulatedSource produces a realistic CPU usage pattern without a metrics
// backend: a slow sinusoidal base load plus noise, clamped to [5, 95]. It is
// selected when no Prometheus URL is configured so the agent runs end-to-end
// in demo environments.
type SimulatedSource struct {
	rng *rand.Rand
	now func() time.Time
}

// NewSimulatedSource creates a simulated metric source
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

// Sample returns the next simulated CPU reading
func (s *SimulatedSource) Sample(_ context.Context, targetID string) (types.MetricSample, error) {
	now := s.now()

	// 5-minute load cycle oscillating roughly between 5% and 35%
	phase := float64(now.Unix()%300) / 50.0
	base := 20 + 15*math.Sin(phase)
	noise := s.rng.Float64()*20 - 8

	value := math.Max(5, math.Min(95, base+noise))
	return types.MetricSample{
		Timestamp: now,
		TargetID:  targetID,
		Value:     value,
	}, nil
}

// SpikeSource wraps another source and forces over-threshold readings with a
// fixed probability. This is the fault-injection hook used by test harnesses
// and demo mode; the control loop itself never knows spikes are synthetic.
type SpikeSource struct {
	inner       Source
	probability float64
	spikeLow    float64
	spikeHigh   float64
	rng         *rand.Rand
}

// NewSpikeSource wraps inner, replacing each sample's value with one drawn
// from [low, high] with the given probability
func NewSpikeSource(inner Source, probability, low, high float64) *SpikeSource {
	return &SpikeSource{
		inner:       inner,
		probability: probability,
		spikeLow:    low,
		spikeHigh:   high,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Sample delegates to the wrapped source, occasionally injecting a spike
func (s *SpikeSource) Sample(ctx context.Context, targetID string) (types.MetricSample, error) {
	sample, err := s.inner.Sample(ctx, targetID)
	if err != nil {
		return sample, err
	}
	if s.rng.Float64() < s.probability {
		sample.Value = s.spikeLow + s.rng.Float64()*(s.spikeHigh-s.spikeLow)
	}
	return sample, nil
}
