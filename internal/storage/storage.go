// Package storage defines the durable incident store contract. The store owns
// persistence only; incidents are created and mutated exclusively by the
// lifecycle manager.
package storage

import (
	"context"
	"errors"

	"github.com/opsbotics/opsbot/internal/types"
)

// ErrNotFound is returned when no incident exists for the requested ID
var ErrNotFound = errors.New("incident not found")

// Store is the interface for incident storage backends.
//
// Implementations must support concurrent Append/Update from independent
// target loops. Each incident is owned by exactly one target's loop, so
// last-writer-wins per ID is acceptable.
type Store interface {
	// Append persists a newly opened incident
	Append(ctx context.Context, inc *types.Incident) error

	// Update persists the current state of an incident, keyed by ID. Update
	// is idempotent: re-applying the same state does not duplicate
	// remediation attempts.
	Update(ctx context.Context, inc *types.Incident) error

	// Get returns the incident with the given ID, or ErrNotFound
	Get(ctx context.Context, id string) (*types.Incident, error)

	// Query returns incidents matching the filter, most recent first
	Query(ctx context.Context, filter types.IncidentFilter) ([]*types.Incident, error)

	// Recent returns the n most recently opened incidents
	Recent(ctx context.Context, n int) ([]*types.Incident, error)

	// ActiveForTarget returns the non-terminal incident for a target, or nil
	// if the target has no incident in flight. Used to recover lifecycle
	// state after a restart.
	ActiveForTarget(ctx context.Context, targetID string) (*types.Incident, error)

	// Count returns the total number of recorded incidents
	Count(ctx context.Context) (int, error)

	// Close releases the underlying resources
	Close() error
}
