package remediation

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DockerRuntime drives containers through the docker CLI. `docker restart`
// and friends are idempotent on the daemon side, which is what lets the
// executor retry them transparently.
type DockerRuntime struct {
	// Binary is the docker executable (default "docker")
	Binary string
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime creates a runtime using the docker CLI on PATH
func NewDockerRuntime() *DockerRuntime {
	return &DockerRuntime{Binary: "docker"}
}

func (d *DockerRuntime) docker(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.Binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s failed: %w (output: %s)",
			args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Start starts the container
func (d *DockerRuntime) Start(ctx context.Context, targetID string) error {
	_, err := d.docker(ctx, "start", targetID)
	return err
}

// Stop stops the container
func (d *DockerRuntime) Stop(ctx context.Context, targetID string) error {
	_, err := d.docker(ctx, "stop", targetID)
	return err
}

// Restart restarts the container
func (d *DockerRuntime) Restart(ctx context.Context, targetID string) error {
	_, err := d.docker(ctx, "restart", targetID)
	return err
}

// HealthCheck reports whether the container is running. Containers without a
// configured healthcheck are considered healthy when running.
func (d *DockerRuntime) HealthCheck(ctx context.Context, targetID string) (bool, error) {
	out, err := d.docker(ctx, "inspect", "-f", "{{.State.Running}}", targetID)
	if err != nil {
		return false, err
	}
	return out == "true", nil
}
