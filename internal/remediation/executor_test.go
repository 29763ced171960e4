package remediation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime scripts runtime responses for the executor
type fakeRuntime struct {
	restartErrs []error // popped per call; empty means success
	restarts    int
	healthy     bool
	healthErr   error
	blockOn     bool // block until ctx cancellation
}

func (f *fakeRuntime) Start(ctx context.Context, targetID string) error   { return nil }
func (f *fakeRuntime) Stop(ctx context.Context, targetID string) error    { return nil }
func (f *fakeRuntime) Restart(ctx context.Context, targetID string) error {
	f.restarts++
	if f.blockOn {
		<-ctx.Done()
		return ctx.Err()
	}
	if len(f.restartErrs) == 0 {
		return nil
	}
	err := f.restartErrs[0]
	f.restartErrs = f.restartErrs[1:]
	return err
}

func (f *fakeRuntime) HealthCheck(ctx context.Context, targetID string) (bool, error) {
	if f.blockOn {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.healthy, f.healthErr
}

func fastConfig() Config {
	return Config{
		ExecuteTimeout: time.Second,
		VerifyTimeout:  100 * time.Millisecond,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}
}

func TestExecuteSuccess(t *testing.T) {
	rt := &fakeRuntime{}
	ex := New(rt, fastConfig())

	outcome := ex.Execute(context.Background(), "test-container", "restart")
	assert.True(t, outcome.Success)
	assert.Equal(t, 1, rt.restarts)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	rt := &fakeRuntime{restartErrs: []error{
		errors.New("daemon busy"),
		errors.New("daemon busy"),
	}}
	ex := New(rt, fastConfig())

	outcome := ex.Execute(context.Background(), "test-container", "restart")
	assert.True(t, outcome.Success)
	assert.Equal(t, 3, rt.restarts)
}

func TestExecuteFailsAfterBoundedRetries(t *testing.T) {
	rt := &fakeRuntime{restartErrs: []error{
		errors.New("no such container"),
		errors.New("no such container"),
		errors.New("no such container"),
		errors.New("no such container"),
	}}
	ex := New(rt, fastConfig())

	outcome := ex.Execute(context.Background(), "test-container", "restart")
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Detail, "no such container")
	// 1 initial attempt + 2 retries, never more
	assert.Equal(t, 3, rt.restarts)
}

func TestExecuteTimeoutIsFailure(t *testing.T) {
	rt := &fakeRuntime{blockOn: true}
	cfg := fastConfig()
	cfg.ExecuteTimeout = 50 * time.Millisecond
	ex := New(rt, cfg)

	start := time.Now()
	outcome := ex.Execute(context.Background(), "test-container", "restart")
	assert.False(t, outcome.Success)
	assert.Less(t, time.Since(start), time.Second, "executor must not block past its timeout")
}

func TestExecuteUnknownAction(t *testing.T) {
	ex := New(&fakeRuntime{}, fastConfig())

	outcome := ex.Execute(context.Background(), "test-container", "reboot-the-moon")
	require.False(t, outcome.Success)
	assert.Contains(t, outcome.Detail, "unknown remediation action")
}

func TestVerifyHealthy(t *testing.T) {
	ex := New(&fakeRuntime{healthy: true}, fastConfig())
	assert.Equal(t, HealthHealthy, ex.Verify(context.Background(), "test-container"))
}

func TestVerifyUnhealthy(t *testing.T) {
	ex := New(&fakeRuntime{healthy: false}, fastConfig())
	assert.Equal(t, HealthUnhealthy, ex.Verify(context.Background(), "test-container"))
}

func TestVerifyErrorIsUnknown(t *testing.T) {
	ex := New(&fakeRuntime{healthErr: errors.New("inspect failed")}, fastConfig())
	assert.Equal(t, HealthUnknown, ex.Verify(context.Background(), "test-container"))
}

func TestVerifyTimeoutIsUnknown(t *testing.T) {
	ex := New(&fakeRuntime{blockOn: true}, fastConfig())

	start := time.Now()
	health := ex.Verify(context.Background(), "test-container")
	assert.Equal(t, HealthUnknown, health)
	assert.Less(t, time.Since(start), time.Second)
}
