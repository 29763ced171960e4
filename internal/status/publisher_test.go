package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsbotics/opsbot/internal/types"
)

func TestPublishAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "ui_data.json")
	p := NewFilePublisher(path)

	snapshot := types.StatusSnapshot{
		CPUUsage:         42.5,
		Status:           "Normal",
		LastUpdated:      "Thu Aug 28 10:00:00 2026",
		ContainerName:    "test-container",
		Threshold:        80,
		MonitoringActive: true,
	}
	require.NoError(t, p.Publish(snapshot))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, snapshot, *got)
}

// TestPublishOverwritesInPlace verifies the file holds exactly the latest
// snapshot, never history.
func TestPublishOverwritesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ui_data.json")
	p := NewFilePublisher(path)

	require.NoError(t, p.Publish(types.StatusSnapshot{Status: "Normal", CPUUsage: 20}))
	require.NoError(t, p.Publish(types.StatusSnapshot{Status: "Spike Detected", CPUUsage: 95}))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "Spike Detected", got.Status)
	assert.Equal(t, 95.0, got.CPUUsage)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestSnapshotFieldNames pins the dashboard contract.
func TestSnapshotFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ui_data.json")
	p := NewFilePublisher(path)

	require.NoError(t, p.Publish(types.StatusSnapshot{MonitoringActive: true}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"cpu_usage", "status", "last_updated", "container_name", "threshold", "monitoring_active"} {
		assert.Contains(t, fields, key)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
