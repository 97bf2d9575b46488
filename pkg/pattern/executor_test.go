// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package pattern

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alwaysValidValidator satisfies Validator, reporting every pattern as
// valid, including for contexts with no agents.
type alwaysValidValidator struct{}

func (alwaysValidValidator) Validate(_ context.Context, _ Metadata, _ *Context) (*ValidationResult, error) {
	return &ValidationResult{IsValid: true}, nil
}

// capabilityValidator fails unless the context has an agent advertising
// every required capability (the seed-test scenarios in spec §8).
type capabilityValidator struct{}

func (capabilityValidator) Validate(_ context.Context, md Metadata, pc *Context) (*ValidationResult, error) {
	result := &ValidationResult{IsValid: true}
	for _, c := range md.RequiredCapabilities {
		found := false
		for _, a := range pc.Agents.List() {
			if a.HasCapability(c) {
				found = true
			}
		}
		if !found {
			result.Errors = append(result.Errors, "No agent found with capability: "+c)
		}
	}
	result.IsValid = len(result.Errors) == 0
	return result, nil
}

// memCheckpointStore is a minimal in-memory CheckpointStore stub, kept
// local to avoid the pattern<->checkpoint import cycle (see Validator's
// doc comment).
type memCheckpointStore struct {
	mu       sync.Mutex
	created  int
	restored int
}

func (m *memCheckpointStore) Create(context.Context, coordination.PatternId, *Context, map[string]any) (coordination.CheckpointId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	return coordination.CheckpointId("cp"), nil
}

func (m *memCheckpointStore) RestoreLatest(context.Context, coordination.PatternId, *Context) (coordination.CheckpointId, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restored++
	return coordination.CheckpointId("cp"), true, nil
}

func newTestContext(t *testing.T, capability string) *Context {
	t.Helper()
	agents := coordination.NewAgentRegistry()
	if capability != "" {
		a, err := coordination.NewAgent(coordination.NewAgentId(), "agent", "worker", "v1")
		require.NoError(t, err)
		a.AddCapability(capability)
		require.NoError(t, agents.Register(a))
	}
	resources := coordination.NewResourcePool(1<<20, 4, 1000)
	return NewContext(agents, resources, ExecConfig{TimeoutSeconds: 2, MaxRetries: 0})
}

type fnPattern struct {
	md       Metadata
	execute  func(context.Context, *Context) (map[string]any, error)
	rollback func(context.Context, *Context) error
}

func (p fnPattern) Metadata() Metadata { return p.md }
func (p fnPattern) Execute(ctx context.Context, pc *Context) (map[string]any, error) {
	return p.execute(ctx, pc)
}
func (p fnPattern) Rollback(ctx context.Context, pc *Context) error {
	if p.rollback == nil {
		return nil
	}
	return p.rollback(ctx, pc)
}

// Seed scenario 1 (spec §8): happy-path execution.
func TestExecutorHappyPath(t *testing.T) {
	reg := NewRegistry()
	p := fnPattern{
		md: Metadata{ID: "P", Name: "P", Version: "1.0.0", Category: CategoryTaskDistribution, RequiredCapabilities: []string{"c1"}, Complexity: 1},
		execute: func(context.Context, *Context) (map[string]any, error) {
			return map[string]any{"done": true}, nil
		},
	}
	require.NoError(t, reg.Register(p))

	exec := NewExecutor(reg, capabilityValidator{}, nil)
	pc := newTestContext(t, "c1")

	res, err := exec.Execute(context.Background(), "P", pc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, coordination.PatternId("P"), res.PatternID)
}

// Seed scenario 2 (spec §8): validation failure never starts execution.
func TestExecutorValidationFailure(t *testing.T) {
	reg := NewRegistry()
	executed := false
	p := fnPattern{
		md: Metadata{ID: "P", Name: "P", Version: "1.0.0", Category: CategoryTaskDistribution, RequiredCapabilities: []string{"c1"}, Complexity: 1},
		execute: func(context.Context, *Context) (map[string]any, error) {
			executed = true
			return nil, nil
		},
	}
	require.NoError(t, reg.Register(p))

	exec := NewExecutor(reg, capabilityValidator{}, nil)
	pc := newTestContext(t, "") // no agent has c1

	_, err := exec.Execute(context.Background(), "P", pc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, coordination.ErrValidationFailed))
	assert.False(t, executed, "pattern body must never run after a validation failure")
}

func TestExecutorPatternNotFound(t *testing.T) {
	exec := NewExecutor(NewRegistry(), alwaysValidValidator{}, nil)
	pc := newTestContext(t, "")
	_, err := exec.Execute(context.Background(), "missing", pc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, coordination.ErrPatternNotFound))
}

// Seed scenario 3 (spec §8): retry then success, with checkpoint restores observed.
func TestExecutorRetryThenSucceed(t *testing.T) {
	reg := NewRegistry()
	attempts := 0
	p := fnPattern{
		md: Metadata{ID: "Q", Name: "Q", Version: "1.0.0", Category: CategoryTaskDistribution, Complexity: 1},
		execute: func(context.Context, *Context) (map[string]any, error) {
			attempts++
			if attempts < 3 {
				return nil, coordination.NewExecutionError("transient")
			}
			return map[string]any{"ok": true}, nil
		},
	}
	require.NoError(t, reg.Register(p))

	store := &memCheckpointStore{}
	exec := NewExecutor(reg, alwaysValidValidator{}, store)
	pc := newTestContext(t, "")
	pc.Config.MaxRetries = 2
	pc.Config.EnableRollback = true

	res, err := exec.Execute(context.Background(), "Q", pc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, res.PerformanceMetrics.RetriesUsed)
	assert.GreaterOrEqual(t, store.restored, 2)

	stats := exec.GetStatistics()
	assert.Equal(t, int64(2), stats.TotalRetries)
}

func TestExecutorMaxRetriesZeroSurfacesImmediately(t *testing.T) {
	reg := NewRegistry()
	attempts := 0
	p := fnPattern{
		md: Metadata{ID: "Q", Name: "Q", Version: "1.0.0", Category: CategoryTaskDistribution, Complexity: 1},
		execute: func(context.Context, *Context) (map[string]any, error) {
			attempts++
			return nil, coordination.NewExecutionError("boom")
		},
	}
	require.NoError(t, reg.Register(p))

	exec := NewExecutor(reg, alwaysValidValidator{}, nil)
	pc := newTestContext(t, "")
	pc.Config.MaxRetries = 0

	_, err := exec.Execute(context.Background(), "Q", pc)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecutorRollbackRunsOnFailure(t *testing.T) {
	reg := NewRegistry()
	rolledBack := false
	p := fnPattern{
		md: Metadata{ID: "R", Name: "R", Version: "1.0.0", Category: CategoryTaskDistribution, Complexity: 1},
		execute: func(context.Context, *Context) (map[string]any, error) {
			return nil, coordination.NewExecutionError("always fails")
		},
		rollback: func(context.Context, *Context) error {
			rolledBack = true
			return nil
		},
	}
	require.NoError(t, reg.Register(p))

	exec := NewExecutor(reg, alwaysValidValidator{}, nil)
	pc := newTestContext(t, "")
	pc.Config.MaxRetries = 0
	pc.Config.EnableRollback = true

	_, err := exec.Execute(context.Background(), "R", pc)
	require.Error(t, err)
	assert.True(t, rolledBack)

	stats := exec.GetStatistics()
	assert.Equal(t, int64(1), stats.RollbacksRun)
}

func TestExecutorTimeoutIsNotRetried(t *testing.T) {
	reg := NewRegistry()
	p := fnPattern{
		md: Metadata{ID: "T", Name: "T", Version: "1.0.0", Category: CategoryTaskDistribution, Complexity: 1},
		execute: func(_ context.Context, _ *Context) (map[string]any, error) {
			// Ignores ctx deliberately: only the executor's own timeout race
			// (bodyCtx.Done() vs this goroutine's completion) should decide
			// the outcome, never a completion racing the timeout signal.
			time.Sleep(5 * time.Second)
			return nil, nil
		},
	}
	require.NoError(t, reg.Register(p))

	exec := NewExecutor(reg, alwaysValidValidator{}, nil)
	pc := newTestContext(t, "")
	pc.Config.TimeoutSeconds = 1
	pc.Config.MaxRetries = 5

	start := time.Now()
	_, err := exec.Execute(context.Background(), "T", pc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, coordination.ErrPatternTimeout))
	assert.Less(t, time.Since(start), 4*time.Second, "timeout must not be retried")
}

func TestExecutorCancel(t *testing.T) {
	reg := NewRegistry()
	started := make(chan struct{})
	p := fnPattern{
		md: Metadata{ID: "C", Name: "C", Version: "1.0.0", Category: CategoryTaskDistribution, Complexity: 1},
		execute: func(_ context.Context, _ *Context) (map[string]any, error) {
			close(started)
			// Ignores ctx deliberately, so the only way this call can end
			// before the test's assertions run is via the executor's own
			// cancellation signal, not a race on this goroutine returning.
			time.Sleep(3 * time.Second)
			return nil, nil
		},
	}
	require.NoError(t, reg.Register(p))

	exec := NewExecutor(reg, alwaysValidValidator{}, nil)
	pc := newTestContext(t, "")
	pc.Config.TimeoutSeconds = 10

	done := make(chan error, 1)
	go func() {
		_, err := exec.Execute(context.Background(), "C", pc)
		done <- err
	}()

	<-started
	// Give the executor a moment to register the active execution.
	require.Eventually(t, func() bool {
		return exec.Cancel("C") == nil
	}, time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, coordination.ErrCancelled))
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not observe cancellation")
	}
}

type recordingMonitor struct {
	mu         sync.Mutex
	executions int
	errors     int
	active     int
}

func (m *recordingMonitor) RecordPatternExecution(string, string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions++
}

func (m *recordingMonitor) RecordPatternError(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

func (m *recordingMonitor) IncPatternActive(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active++
}

func (m *recordingMonitor) DecPatternActive(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
}

func TestExecutorMonitoringGatedByConfig(t *testing.T) {
	reg := NewRegistry()
	p := fnPattern{
		md: Metadata{ID: "M", Name: "M", Version: "1.0.0", Category: CategoryTaskDistribution, Complexity: 1},
		execute: func(context.Context, *Context) (map[string]any, error) {
			return nil, nil
		},
	}
	require.NoError(t, reg.Register(p))

	monitor := &recordingMonitor{}
	exec := NewExecutor(reg, alwaysValidValidator{}, nil).WithMonitor(monitor)

	pc := newTestContext(t, "")
	_, err := exec.Execute(context.Background(), "M", pc)
	require.NoError(t, err)
	assert.Equal(t, 0, monitor.executions, "monitoring disabled: nothing recorded")

	pc.Config.EnableMonitoring = true
	_, err = exec.Execute(context.Background(), "M", pc)
	require.NoError(t, err)
	assert.Equal(t, 1, monitor.executions)
	assert.Equal(t, 0, monitor.active, "active gauge must return to zero")
}

func TestExecutorCancelOfUnknownPatternIsError(t *testing.T) {
	exec := NewExecutor(NewRegistry(), alwaysValidValidator{}, nil)
	err := exec.Cancel("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, coordination.ErrNotFound))
}
