// Package status publishes the dashboard snapshot. The snapshot is derived
// state with overwrite-in-place semantics: one JSON file, replaced atomically
// every publish cycle, never appended.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opsbotics/opsbot/internal/types"
)

// Publisher writes status snapshots for the dashboard collaborator
type Publisher interface {
	Publish(snapshot types.StatusSnapshot) error
}

// FilePublisher writes the snapshot to a JSON file via temp-file-and-rename,
// so dashboard readers never observe a partially written file.
type FilePublisher struct {
	path string
}

var _ Publisher = (*FilePublisher)(nil)

// NewFilePublisher creates a publisher writing to path
func NewFilePublisher(path string) *FilePublisher {
	return &FilePublisher{path: path}
}

// Publish overwrites the snapshot file
func (p *FilePublisher) Publish(snapshot types.StatusSnapshot) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ui_data-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Read loads the last published snapshot. Used by the status CLI view.
func Read(path string) (*types.StatusSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snapshot types.StatusSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}
