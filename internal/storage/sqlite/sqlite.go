// Package sqlite implements the incident store on SQLite. WAL mode keeps
// concurrent append/update from independent target loops safe.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opsbotics/opsbot/internal/storage"
	"github.com/opsbotics/opsbot/internal/types"
)

// SQLiteStore implements the storage.Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

var _ storage.Store = (*SQLiteStore)(nil)

// New creates a new SQLite incident store at path
func New(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for better concurrency between target loops
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append persists a newly opened incident
func (s *SQLiteStore) Append(ctx context.Context, inc *types.Incident) error {
	if err := inc.Validate(); err != nil {
		return fmt.Errorf("invalid incident: %w", err)
	}

	attempts, err := marshalAttempts(inc.RemediationAttempts)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents
			(id, target_id, metric_name, threshold, peak_value, status,
			 root_cause_summary, remediation_attempts, opened_at, closed_at, cooldown_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.TargetID, inc.MetricName, inc.Threshold, inc.PeakValue,
		string(inc.Status), inc.RootCauseSummary, attempts,
		inc.OpenedAt, nullTimePtr(inc.ClosedAt), nullTime(inc.CooldownUntil))
	if err != nil {
		return fmt.Errorf("failed to insert incident %s: %w", inc.ID, err)
	}
	return nil
}

// Update persists the current state of an incident. The whole row is replaced,
// so re-applying an identical transition is a no-op rather than a duplicate.
func (s *SQLiteStore) Update(ctx context.Context, inc *types.Incident) error {
	if err := inc.Validate(); err != nil {
		return fmt.Errorf("invalid incident: %w", err)
	}

	attempts, err := marshalAttempts(inc.RemediationAttempts)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET
			target_id = ?, metric_name = ?, threshold = ?, peak_value = ?,
			status = ?, root_cause_summary = ?, remediation_attempts = ?,
			opened_at = ?, closed_at = ?, cooldown_until = ?
		WHERE id = ?`,
		inc.TargetID, inc.MetricName, inc.Threshold, inc.PeakValue,
		string(inc.Status), inc.RootCauseSummary, attempts,
		inc.OpenedAt, nullTimePtr(inc.ClosedAt), nullTime(inc.CooldownUntil),
		inc.ID)
	if err != nil {
		return fmt.Errorf("failed to update incident %s: %w", inc.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of incident %s: %w", inc.ID, err)
	}
	if rows == 0 {
		return fmt.Errorf("update incident %s: %w", inc.ID, storage.ErrNotFound)
	}
	return nil
}

// Get returns the incident with the given ID
func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.Incident, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get incident %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident %s: %w", id, err)
	}
	return inc, nil
}

// Query returns incidents matching the filter, most recently opened first
func (s *SQLiteStore) Query(ctx context.Context, filter types.IncidentFilter) ([]*types.Incident, error) {
	query := selectColumns + " WHERE 1=1"
	args := []interface{}{}

	if filter.TargetID != "" {
		query += " AND target_id = ?"
		args = append(args, filter.TargetID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY opened_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*types.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Recent returns the n most recently opened incidents
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]*types.Incident, error) {
	return s.Query(ctx, types.IncidentFilter{Limit: n})
}

// ActiveForTarget returns the non-terminal incident for a target, or nil
func (s *SQLiteStore) ActiveForTarget(ctx context.Context, targetID string) (*types.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE target_id = ? AND status NOT IN (?, ?)
		 ORDER BY opened_at DESC LIMIT 1`,
		targetID, string(types.StatusResolved), string(types.StatusEscalated))

	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active incident for %s: %w", targetID, err)
	}
	return inc, nil
}

// Count returns the total number of recorded incidents
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM incidents").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count incidents: %w", err)
	}
	return count, nil
}

const selectColumns = `
	SELECT id, target_id, metric_name, threshold, peak_value, status,
	       root_cause_summary, remediation_attempts, opened_at, closed_at, cooldown_until
	FROM incidents`

// scannable covers both *sql.Row and *sql.Rows
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row scannable) (*types.Incident, error) {
	var inc types.Incident
	var status, attemptsJSON string
	var closedAt, cooldownUntil sql.NullTime

	err := row.Scan(&inc.ID, &inc.TargetID, &inc.MetricName, &inc.Threshold,
		&inc.PeakValue, &status, &inc.RootCauseSummary, &attemptsJSON,
		&inc.OpenedAt, &closedAt, &cooldownUntil)
	if err != nil {
		return nil, err
	}

	inc.Status = types.IncidentStatus(status)
	if closedAt.Valid {
		t := closedAt.Time
		inc.ClosedAt = &t
	}
	if cooldownUntil.Valid {
		inc.CooldownUntil = cooldownUntil.Time
	}
	if err := json.Unmarshal([]byte(attemptsJSON), &inc.RemediationAttempts); err != nil {
		return nil, fmt.Errorf("failed to decode remediation attempts for %s: %w", inc.ID, err)
	}
	return &inc, nil
}

func marshalAttempts(attempts []types.RemediationAttempt) (string, error) {
	if attempts == nil {
		attempts = []types.RemediationAttempt{}
	}
	data, err := json.Marshal(attempts)
	if err != nil {
		return "", fmt.Errorf("failed to encode remediation attempts: %w", err)
	}
	return string(data), nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
