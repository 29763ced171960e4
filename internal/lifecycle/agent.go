package lifecycle

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/opsbotics/opsbot/internal/detector"
	"github.com/opsbotics/opsbot/internal/metrics"
	"github.com/opsbotics/opsbot/internal/status"
	"github.com/opsbotics/opsbot/internal/storage"
	"github.com/opsbotics/opsbot/internal/types"
)

// AgentConfig holds the control loop configuration for one target
type AgentConfig struct {
	TargetID          string
	PollInterval      time.Duration
	SustainedDuration time.Duration
	SampleTimeout     time.Duration
	HeartbeatEvery    int // print a healthy heartbeat every N quiet cycles (0 disables)

	Manager ManagerConfig
}

// Agent runs the monitoring control loop for a single target. Within one
// cycle the steps run in sequence: sample, detect, advance the state machine,
// publish status. The loop never dies on collaborator errors.
type Agent struct {
	cfg       AgentConfig
	source    metrics.Source
	det       *detector.Detector
	manager   *Manager
	store     storage.Store
	publisher status.Publisher

	stopCh chan struct{}
	doneCh chan struct{}

	mu         sync.RWMutex
	running    bool
	cycleCount int
	lastValue  float64
}

// NewAgent creates a control loop for one target
func NewAgent(cfg AgentConfig, source metrics.Source, manager *Manager,
	store storage.Store, publisher status.Publisher) (*Agent, error) {
	if cfg.TargetID == "" {
		return nil, fmt.Errorf("target ID is required")
	}
	if source == nil {
		return nil, fmt.Errorf("metric source is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("lifecycle manager is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.SampleTimeout <= 0 {
		cfg.SampleTimeout = 10 * time.Second
	}

	return &Agent{
		cfg:       cfg,
		source:    source,
		det:       detector.New(cfg.Manager.Threshold, cfg.SustainedDuration, cfg.PollInterval),
		manager:   manager,
		store:     store,
		publisher: publisher,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins the control loop. It restores any in-flight incident from the
// store so a restart does not orphan an active lifecycle.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent for %s already running", a.cfg.TargetID)
	}
	a.running = true
	a.mu.Unlock()

	if a.store != nil {
		active, err := a.store.ActiveForTarget(ctx, a.cfg.TargetID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not check for in-flight incident on %s: %v\n", a.cfg.TargetID, err)
		} else if active != nil {
			fmt.Printf("Resuming incident %s for %s (status %s)\n", active.ID, a.cfg.TargetID, active.Status)
			a.manager.Restore(active)
			// The metric was breaching when that incident opened; seed the
			// detector so a sustained recovery can still emit a clear.
			a.det.SeedBreached()
		}
	}

	go a.run(ctx)
	return nil
}

// Stop terminates the loop gracefully: the in-flight cycle finishes, pending
// state is flushed, and a final snapshot with monitoring_active=false is
// published.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	close(a.stopCh)
	select {
	case <-a.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for %s loop to stop: %w", a.cfg.TargetID, ctx.Err())
	}

	if inc := a.manager.Incident(); inc != nil {
		if err := a.store.Update(ctx, inc); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush incident %s on shutdown: %v\n", inc.ID, err)
		}
	}

	a.publish("Stopped", false)
	return nil
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	// First cycle runs immediately rather than one interval in.
	a.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

// cycle executes one sample-detect-advance-publish pass
func (a *Agent) cycle(ctx context.Context) {
	a.mu.Lock()
	a.cycleCount++
	count := a.cycleCount
	a.mu.Unlock()

	sampleCtx, cancel := context.WithTimeout(ctx, a.cfg.SampleTimeout)
	sample, err := a.source.Sample(sampleCtx, a.cfg.TargetID)
	cancel()
	if err != nil {
		// Missed sample: no state change this cycle, but the dashboard still
		// gets a fresh last_updated.
		fmt.Fprintf(os.Stderr, "sample failed for %s: %v\n", a.cfg.TargetID, err)
		a.publish(a.manager.StatusText(), true)
		return
	}

	a.mu.Lock()
	a.lastValue = sample.Value
	a.mu.Unlock()

	event := a.det.Observe(sample)
	if event != detector.EventNone {
		fmt.Printf("Detector event for %s: %s (value %.2f)\n", a.cfg.TargetID, event, sample.Value)
	}

	if err := a.manager.Advance(ctx, event, sample); err != nil {
		fmt.Fprintf(os.Stderr, "lifecycle error for %s: %v\n", a.cfg.TargetID, err)
	}

	statusText := a.manager.StatusText()
	if statusText == "Normal" && a.cfg.HeartbeatEvery > 0 && count%a.cfg.HeartbeatEvery == 0 {
		fmt.Printf("%s running normally (%.2f%%)\n", a.cfg.TargetID, sample.Value)
	}

	a.publish(statusText, true)
}

// publish writes the status snapshot; failures are logged and skipped so they
// never stall the loop
func (a *Agent) publish(statusText string, active bool) {
	if a.publisher == nil {
		return
	}

	a.mu.RLock()
	value := a.lastValue
	a.mu.RUnlock()

	snapshot := types.StatusSnapshot{
		CPUUsage:         value,
		Status:           statusText,
		LastUpdated:      time.Now().Format(time.ANSIC),
		ContainerName:    a.cfg.TargetID,
		Threshold:        a.cfg.Manager.Threshold,
		MonitoringActive: active,
	}
	if err := a.publisher.Publish(snapshot); err != nil {
		fmt.Fprintf(os.Stderr, "status publish failed for %s: %v\n", a.cfg.TargetID, err)
	}
}
