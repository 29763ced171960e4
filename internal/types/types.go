package types

import (
	"fmt"
	"time"
)

// MetricSample is a single observation of the monitored metric for one target.
// Samples are immutable; one is produced per polling cycle.
type MetricSample struct {
	Timestamp time.Time `json:"timestamp"`
	TargetID  string    `json:"target_id"`
	Value     float64   `json:"value"`
}

// IncidentStatus represents where an incident is in its lifecycle
type IncidentStatus string

const (
	StatusOpen        IncidentStatus = "open"
	StatusAnalyzing   IncidentStatus = "analyzing"
	StatusRemediating IncidentStatus = "remediating"
	StatusVerifying   IncidentStatus = "verifying"
	StatusResolved    IncidentStatus = "resolved"
	StatusEscalated   IncidentStatus = "escalated"
)

// IsValid checks if the status value is valid
func (s IncidentStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusAnalyzing, StatusRemediating, StatusVerifying,
		StatusResolved, StatusEscalated:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the incident's lifecycle.
// A new breach after a terminal status always opens a fresh incident.
func (s IncidentStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusEscalated
}

// AttemptOutcome is the result of a single remediation attempt
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
)

// RemediationAttempt records one execution of a remediation action.
// Attempts are ordered; the slice on Incident is append-only.
type RemediationAttempt struct {
	Action     string         `json:"action"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcome    AttemptOutcome `json:"outcome"`
	Detail     string         `json:"detail,omitempty"`
}

// Incident is the durable record of one detected anomaly and everything the
// agent did about it. It is created and mutated only by the lifecycle manager;
// the store persists it but never changes domain state.
type Incident struct {
	ID                  string               `json:"id"`
	TargetID            string               `json:"target_id"`
	MetricName          string               `json:"metric_name"`
	Threshold           float64              `json:"threshold"`
	PeakValue           float64              `json:"peak_value"`
	Status              IncidentStatus       `json:"status"`
	RootCauseSummary    string               `json:"root_cause_summary,omitempty"`
	RemediationAttempts []RemediationAttempt `json:"remediation_attempts,omitempty"`
	OpenedAt            time.Time            `json:"opened_at"`
	ClosedAt            *time.Time           `json:"closed_at,omitempty"`
	CooldownUntil       time.Time            `json:"cooldown_until,omitempty"`
}

// Validate checks if the incident has valid field values
func (i *Incident) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	if i.TargetID == "" {
		return fmt.Errorf("target_id is required")
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	if i.Status.IsTerminal() && i.ClosedAt == nil {
		return fmt.Errorf("terminal incident %s has no closed_at", i.ID)
	}
	return nil
}

// Active reports whether the incident is still in flight. At most one active
// incident may exist per target; new breaches fold into it.
func (i *Incident) Active() bool {
	return !i.Status.IsTerminal()
}

// ObservePeak updates the peak value if the sample exceeds it
func (i *Incident) ObservePeak(value float64) {
	if value > i.PeakValue {
		i.PeakValue = value
	}
}

// LastAttempt returns the most recent remediation attempt, or nil if none
func (i *Incident) LastAttempt() *RemediationAttempt {
	if len(i.RemediationAttempts) == 0 {
		return nil
	}
	return &i.RemediationAttempts[len(i.RemediationAttempts)-1]
}

// StatusSnapshot is the ephemeral view consumed by the dashboard. It is
// rebuilt from current state every publish cycle and overwritten in place,
// never persisted as history. Field names are fixed by the dashboard contract.
type StatusSnapshot struct {
	CPUUsage         float64 `json:"cpu_usage"`
	Status           string  `json:"status"`
	LastUpdated      string  `json:"last_updated"`
	ContainerName    string  `json:"container_name"`
	Threshold        float64 `json:"threshold"`
	MonitoringActive bool    `json:"monitoring_active"`
}

// IncidentFilter narrows store queries
type IncidentFilter struct {
	TargetID string         // empty matches all targets
	Status   IncidentStatus // empty matches all statuses
	Limit    int            // 0 means no limit
}
