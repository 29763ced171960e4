// Package remediation wraps the container runtime's recovery operations with
// timeouts, bounded retries, and verification. The lifecycle manager must
// never block indefinitely on this collaborator: timeouts surface as failed
// outcomes, not hangs.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Health is the result of a verification probe
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Outcome is the result of executing one remediation action
type Outcome struct {
	Success bool
	Detail  string
}

// Runtime is the container runtime collaborator. Operations must be
// idempotent from the caller's perspective: issuing the same action twice
// must not corrupt target state.
type Runtime interface {
	Start(ctx context.Context, targetID string) error
	Stop(ctx context.Context, targetID string) error
	Restart(ctx context.Context, targetID string) error
	// HealthCheck reports whether the target is running and responsive
	HealthCheck(ctx context.Context, targetID string) (bool, error)
}

// Config holds executor tunables
type Config struct {
	ExecuteTimeout time.Duration // bound on one action including retries (default: 60s)
	VerifyTimeout  time.Duration // bound on one health probe (default: 15s)
	MaxRetries     int           // transparent retries on transient errors (default: 2)
	RetryDelay     time.Duration // pause between retries (default: 2s)
}

// DefaultConfig returns default executor configuration
func DefaultConfig() Config {
	return Config{
		ExecuteTimeout: 60 * time.Second,
		VerifyTimeout:  15 * time.Second,
		MaxRetries:     2,
		RetryDelay:     2 * time.Second,
	}
}

// Executor executes remediation actions against a runtime
type Executor struct {
	runtime Runtime
	cfg     Config
}

// New creates a remediation executor backed by the given runtime
func New(runtime Runtime, cfg Config) *Executor {
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 60 * time.Second
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Executor{runtime: runtime, cfg: cfg}
}

// Execute runs one remediation action, retrying transient failures up to the
// configured count. A timeout counts as failure.
func (e *Executor) Execute(ctx context.Context, targetID, action string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ExecuteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.RetryDelay):
			case <-ctx.Done():
				return Outcome{Success: false, Detail: fmt.Sprintf("%s timed out: %v", action, ctx.Err())}
			}
		}

		err := e.run(ctx, targetID, action)
		if err == nil {
			return Outcome{Success: true, Detail: fmt.Sprintf("%s of %s succeeded", action, targetID)}
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			break
		}
	}

	return Outcome{Success: false, Detail: fmt.Sprintf("%s of %s failed: %v", action, targetID, lastErr)}
}

func (e *Executor) run(ctx context.Context, targetID, action string) error {
	switch action {
	case "start":
		return e.runtime.Start(ctx, targetID)
	case "stop":
		return e.runtime.Stop(ctx, targetID)
	case "restart":
		return e.runtime.Restart(ctx, targetID)
	default:
		// Misconfigured ladder; retrying cannot help
		return fmt.Errorf("unknown remediation action %q", action)
	}
}

// Verify probes the target's health. A timeout or probe error maps to
// HealthUnknown, which the lifecycle treats as a failed verification.
func (e *Executor) Verify(ctx context.Context, targetID string) Health {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.VerifyTimeout)
	defer cancel()

	healthy, err := e.runtime.HealthCheck(ctx, targetID)
	if err != nil {
		return HealthUnknown
	}
	if healthy {
		return HealthHealthy
	}
	return HealthUnhealthy
}
