// Package lifecycle implements the incident state machine and the per-target
// control loop that drives it. The manager owns every incident mutation:
// collaborators (analyzer, remediator, store, notifier) are invoked from here
// and never change incident state themselves.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/opsbotics/opsbot/internal/ai"
	"github.com/opsbotics/opsbot/internal/detector"
	"github.com/opsbotics/opsbot/internal/notify"
	"github.com/opsbotics/opsbot/internal/remediation"
	"github.com/opsbotics/opsbot/internal/storage"
	"github.com/opsbotics/opsbot/internal/types"
)

// Analyzer produces an advisory root-cause summary. A nil Analyzer puts the
// manager in degraded mode: incidents proceed without summaries.
type Analyzer interface {
	Analyze(ctx context.Context, incCtx ai.IncidentContext) (string, error)
}

// Remediator executes recovery actions and health probes, both timeout-bounded
type Remediator interface {
	Execute(ctx context.Context, targetID, action string) remediation.Outcome
	Verify(ctx context.Context, targetID string) remediation.Health
}

// LogProvider returns the log excerpt attached to analysis requests
type LogProvider func() string

// ManagerConfig holds the lifecycle policy for one target
type ManagerConfig struct {
	TargetID        string
	MetricName      string
	Threshold       float64
	CooldownWindow  time.Duration // minimum time between remediation attempts
	MaxAttempts     int           // attempts before escalation
	Actions         []string      // escalation ladder, one rung per failed attempt
	GracePeriod     time.Duration // wait between action and health probe
	AnalysisTimeout time.Duration // bound on the advisory analysis call
}

type analysisResult struct {
	summary string
	err     error
}

// Manager advances one target's incident through its lifecycle. It is driven
// by exactly one control loop and is not safe for concurrent use; the only
// state shared between targets is the store.
type Manager struct {
	cfg        ManagerConfig
	store      storage.Store
	analyzer   Analyzer
	remediator Remediator
	notifier   notify.Notifier
	logs       LogProvider

	incident     *types.Incident
	analysisDone bool
	analysisCh   chan analysisResult
	verifyAfter  time.Time

	// lastClosed keeps the most recent terminal incident so status display
	// can show "intervention needed" after an escalation
	lastClosed *types.Incident

	now func() time.Time
}

// NewManager creates a lifecycle manager for one target
func NewManager(cfg ManagerConfig, store storage.Store, analyzer Analyzer,
	remediator Remediator, notifier notify.Notifier, logs LogProvider) *Manager {
	if len(cfg.Actions) == 0 {
		cfg.Actions = []string{"restart"}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 60 * time.Second
	}
	return &Manager{
		cfg:        cfg,
		store:      store,
		analyzer:   analyzer,
		remediator: remediator,
		notifier:   notifier,
		logs:       logs,
		now:        time.Now,
	}
}

// Restore resumes ownership of a non-terminal incident found in the store,
// typically after an agent restart.
func (m *Manager) Restore(inc *types.Incident) {
	if inc == nil || !inc.Active() {
		return
	}
	m.incident = inc
	// A summary already on the record, or a state past Analyzing, means the
	// analysis phase is behind us.
	m.analysisDone = inc.RootCauseSummary != "" ||
		(inc.Status != types.StatusOpen && inc.Status != types.StatusAnalyzing)
	if !m.analysisDone {
		m.startAnalysis()
	}
	if inc.Status == types.StatusVerifying || inc.Status == types.StatusRemediating {
		m.verifyAfter = m.now().Add(m.cfg.GracePeriod)
	}
}

// Incident returns the active incident, or nil
func (m *Manager) Incident() *types.Incident {
	return m.incident
}

// Advance runs one step of the state machine. It is called once per polling
// cycle with the detector's event for the latest sample.
func (m *Manager) Advance(ctx context.Context, event detector.Event, sample types.MetricSample) error {
	m.drainAnalysis(ctx)

	if m.incident == nil {
		if event == detector.EventBreach {
			return m.open(ctx, sample)
		}
		return nil
	}

	m.incident.ObservePeak(sample.Value)

	// Metric recovered on its own before any remediation started.
	if event == detector.EventClear &&
		(m.incident.Status == types.StatusOpen || m.incident.Status == types.StatusAnalyzing) {
		return m.resolve(ctx, "metric recovered without remediation")
	}

	switch m.incident.Status {
	case types.StatusOpen:
		// Open is momentary; analysis was requested at open time.
		m.incident.Status = types.StatusAnalyzing
		m.persist(ctx)
		return nil

	case types.StatusAnalyzing:
		return m.maybeRemediate(ctx)

	case types.StatusRemediating:
		// Only reachable via Restore: the previous process stopped after the
		// action but before verification was recorded. Re-probe.
		m.incident.Status = types.StatusVerifying
		m.persist(ctx)
		return nil

	case types.StatusVerifying:
		return m.maybeVerify(ctx)
	}

	return nil
}

// open creates a fresh incident for a debounced breach
func (m *Manager) open(ctx context.Context, sample types.MetricSample) error {
	now := m.now()
	m.incident = &types.Incident{
		ID:         uuid.New().String(),
		TargetID:   m.cfg.TargetID,
		MetricName: m.cfg.MetricName,
		Threshold:  m.cfg.Threshold,
		PeakValue:  sample.Value,
		Status:     types.StatusOpen,
		OpenedAt:   now,
	}
	m.analysisDone = false

	fmt.Printf("Incident %s opened for %s: %s=%.2f (threshold %.2f)\n",
		m.incident.ID, m.cfg.TargetID, m.cfg.MetricName, sample.Value, m.cfg.Threshold)

	if err := m.persistWithRetry(ctx, true); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: incident %s opened but not yet durable: %v\n", m.incident.ID, err)
	}

	m.notify(ctx, fmt.Sprintf(
		"OpsBot Incident Report\nIssue: %s breach detected\nContainer: %s\nPeak: %.2f%% (threshold %.2f%%)\nStatus: investigating",
		m.cfg.MetricName, m.cfg.TargetID, sample.Value, m.cfg.Threshold))

	m.startAnalysis()
	m.incident.Status = types.StatusAnalyzing
	m.persist(ctx)
	return nil
}

// startAnalysis kicks off the advisory root-cause request. It runs detached
// from the cycle context because it spans polling cycles, bounded by its own
// timeout.
func (m *Manager) startAnalysis() {
	if m.analyzer == nil {
		m.analysisDone = true
		return
	}

	m.analysisCh = make(chan analysisResult, 1)
	incCtx := ai.IncidentContext{
		TargetID:   m.incident.TargetID,
		MetricName: m.incident.MetricName,
		Threshold:  m.incident.Threshold,
		PeakValue:  m.incident.PeakValue,
		OpenedAt:   m.incident.OpenedAt,
	}
	if m.logs != nil {
		incCtx.LogExcerpt = m.logs()
	}

	ch := m.analysisCh
	timeout := m.cfg.AnalysisTimeout
	analyzer := m.analyzer
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		summary, err := analyzer.Analyze(ctx, incCtx)
		ch <- analysisResult{summary: summary, err: err}
	}()
}

// drainAnalysis folds a completed analysis into the incident, if one landed
func (m *Manager) drainAnalysis(ctx context.Context) {
	if m.analysisCh == nil {
		return
	}
	select {
	case result := <-m.analysisCh:
		m.analysisCh = nil
		m.analysisDone = true
		if result.err != nil {
			// Advisory only; the incident proceeds without a summary.
			fmt.Fprintf(os.Stderr, "root-cause analysis unavailable for %s: %v\n",
				m.cfg.TargetID, result.err)
		} else if m.incident != nil {
			m.incident.RootCauseSummary = result.summary
			fmt.Printf("Root cause for incident %s: %s\n", m.incident.ID, result.summary)
			m.persist(ctx)
		}
	default:
	}
}

// maybeRemediate starts the next remediation attempt once analysis has
// settled and the cooldown gate is open.
func (m *Manager) maybeRemediate(ctx context.Context) error {
	if !m.analysisDone {
		return nil
	}
	now := m.now()
	if now.Before(m.incident.CooldownUntil) {
		// Cooldown gate: no action this cycle, poll again next cycle.
		return nil
	}

	attemptIdx := len(m.incident.RemediationAttempts)
	actionIdx := attemptIdx
	if actionIdx >= len(m.cfg.Actions) {
		actionIdx = len(m.cfg.Actions) - 1
	}
	action := m.cfg.Actions[actionIdx]

	m.incident.Status = types.StatusRemediating
	m.persist(ctx)

	fmt.Printf("Remediating %s: attempt %d/%d (%s)\n",
		m.cfg.TargetID, attemptIdx+1, m.cfg.MaxAttempts, action)

	started := m.now()
	outcome := m.remediator.Execute(ctx, m.cfg.TargetID, action)

	attempt := types.RemediationAttempt{
		Action:     action,
		StartedAt:  started,
		FinishedAt: m.now(),
		Detail:     outcome.Detail,
	}
	if outcome.Success {
		attempt.Outcome = types.OutcomeSuccess
	} else {
		attempt.Outcome = types.OutcomeFailure
	}
	m.incident.RemediationAttempts = append(m.incident.RemediationAttempts, attempt)

	if !outcome.Success {
		fmt.Fprintf(os.Stderr, "remediation action failed for %s: %s\n", m.cfg.TargetID, outcome.Detail)
		return m.afterFailedAttempt(ctx)
	}

	m.incident.Status = types.StatusVerifying
	m.verifyAfter = m.now().Add(m.cfg.GracePeriod)
	m.persist(ctx)
	return nil
}

// maybeVerify probes target health once the grace period has elapsed
func (m *Manager) maybeVerify(ctx context.Context) error {
	if m.now().Before(m.verifyAfter) {
		return nil
	}

	health := m.remediator.Verify(ctx, m.cfg.TargetID)
	if health == remediation.HealthHealthy {
		return m.resolve(ctx, "remediation verified healthy")
	}

	// Unknown counts as failed verification: we could not confirm recovery.
	if last := m.incident.LastAttempt(); last != nil {
		last.Outcome = types.OutcomeFailure
		last.Detail = fmt.Sprintf("verification reported %s", health)
	}
	fmt.Printf("Verification for %s reported %s\n", m.cfg.TargetID, health)
	return m.afterFailedAttempt(ctx)
}

// afterFailedAttempt applies the cooldown-or-escalate policy
func (m *Manager) afterFailedAttempt(ctx context.Context) error {
	if len(m.incident.RemediationAttempts) >= m.cfg.MaxAttempts {
		return m.escalate(ctx)
	}

	m.incident.CooldownUntil = m.now().Add(m.cfg.CooldownWindow)
	m.incident.Status = types.StatusAnalyzing
	m.persist(ctx)
	fmt.Printf("Cooldown for %s until %s (%d/%d attempts used)\n",
		m.cfg.TargetID, m.incident.CooldownUntil.Format(time.RFC3339),
		len(m.incident.RemediationAttempts), m.cfg.MaxAttempts)
	return nil
}

// resolve closes the incident successfully
func (m *Manager) resolve(ctx context.Context, reason string) error {
	now := m.now()
	m.incident.Status = types.StatusResolved
	m.incident.ClosedAt = &now
	m.incident.CooldownUntil = time.Time{}

	persistErr := m.persistWithRetry(ctx, false)

	msg := fmt.Sprintf(
		"OpsBot Incident Report\nIssue: %s breach on %s\nRoot Cause: %s\nAction Taken: %s\nStatus: Resolved",
		m.cfg.MetricName, m.cfg.TargetID, m.summaryOrUnknown(), reason)
	if persistErr != nil {
		msg += "\nWarning: audit record may be incomplete"
	}
	m.notify(ctx, msg)

	fmt.Printf("Incident %s resolved (%s, %d attempts)\n",
		m.incident.ID, reason, len(m.incident.RemediationAttempts))
	m.logTotal(ctx)
	m.close()
	return persistErr
}

// escalate closes the incident after exhausting automated attempts
func (m *Manager) escalate(ctx context.Context) error {
	now := m.now()
	m.incident.Status = types.StatusEscalated
	m.incident.ClosedAt = &now

	persistErr := m.persistWithRetry(ctx, false)

	msg := fmt.Sprintf(
		"OpsBot Incident Report\nIssue: %s breach on %s\nRoot Cause: %s\nAction Taken: %d automated attempts failed\nStatus: Escalated - manual intervention required",
		m.cfg.MetricName, m.cfg.TargetID, m.summaryOrUnknown(), len(m.incident.RemediationAttempts))
	if persistErr != nil {
		msg += "\nWarning: audit record may be incomplete"
	}
	m.notify(ctx, msg)

	fmt.Fprintf(os.Stderr, "Incident %s ESCALATED after %d attempts - manual intervention required\n",
		m.incident.ID, len(m.incident.RemediationAttempts))
	m.logTotal(ctx)
	m.close()
	return persistErr
}

func (m *Manager) logTotal(ctx context.Context) {
	if n, err := m.store.Count(ctx); err == nil {
		fmt.Printf("Incident log holds %d incidents\n", n)
	}
}

func (m *Manager) close() {
	m.lastClosed = m.incident
	m.incident = nil
	m.analysisCh = nil
	m.analysisDone = false
	m.verifyAfter = time.Time{}
}

// persist writes the current incident state, logging (not failing) on error.
// Non-terminal transitions are recoverable from the next cycle's write.
func (m *Manager) persist(ctx context.Context) {
	if err := m.store.Update(ctx, m.incident); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist incident %s: %v\n", m.incident.ID, err)
	}
}

// persistWithRetry writes with backoff. Terminal transitions must be durable
// before they are announced; after the retry ceiling the caller proceeds but
// the incomplete record is surfaced loudly.
func (m *Manager) persistWithRetry(ctx context.Context, isNew bool) error {
	const maxRetries = 4
	backoff := 100 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var err error
		if isNew {
			err = m.store.Append(ctx, m.incident)
		} else {
			err = m.store.Update(ctx, m.incident)
			if errors.Is(err, storage.ErrNotFound) {
				// The open-time append never made it; recover the record.
				err = m.store.Append(ctx, m.incident)
			}
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == maxRetries || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return fmt.Errorf("incident %s write interrupted: %w", m.incident.ID, ctx.Err())
		}
	}

	fmt.Fprintf(os.Stderr, "ERROR: incident %s state %s NOT durable after %d attempts: %v\n",
		m.incident.ID, m.incident.Status, maxRetries+1, lastErr)
	return fmt.Errorf("incident %s write failed: %w", m.incident.ID, lastErr)
}

// notify is best-effort; failures never block the lifecycle
func (m *Manager) notify(ctx context.Context, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Send(ctx, message); err != nil {
		fmt.Fprintf(os.Stderr, "notification failed: %v\n", err)
	}
}

func (m *Manager) summaryOrUnknown() string {
	if m.incident.RootCauseSummary == "" {
		return "analysis unavailable"
	}
	return m.incident.RootCauseSummary
}

// StatusText maps lifecycle state to the dashboard's status line
func (m *Manager) StatusText() string {
	if m.incident == nil {
		if m.lastClosed != nil && m.lastClosed.Status == types.StatusEscalated {
			return "Intervention Needed"
		}
		return "Normal"
	}
	switch m.incident.Status {
	case types.StatusOpen:
		return "Spike Detected"
	case types.StatusAnalyzing:
		if m.now().Before(m.incident.CooldownUntil) {
			return "Cooldown"
		}
		return "Analyzing..."
	case types.StatusRemediating:
		return "Remediating..."
	case types.StatusVerifying:
		return "Verifying..."
	default:
		return "Normal"
	}
}
