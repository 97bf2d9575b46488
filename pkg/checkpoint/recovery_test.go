// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/kadirpekel/coordforge/pkg/pattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIntelligentRetrySucceedsWithinAttempts(t *testing.T) {
	rm := NewRecoveryManager(NewStore(), nil)
	attempts := 0
	res := rm.RunIntelligentRetry(context.Background(), "P", IntelligentRetry{
		MaxAttempts:             3,
		InitialBackoffMs:        1,
		MaxBackoffMs:            5,
		BackoffMultiplier:       2,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeoutMs: 50,
	}, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.AttemptsMade)
	assert.Equal(t, 1, len(rm.History()))
}

func TestRunIntelligentRetryCircuitBreakerThresholdZeroTripsImmediately(t *testing.T) {
	rm := NewRecoveryManager(NewStore(), nil)
	calls := 0
	res := rm.RunIntelligentRetry(context.Background(), "P", IntelligentRetry{
		MaxAttempts:             2,
		InitialBackoffMs:        1,
		MaxBackoffMs:            2,
		BackoffMultiplier:       2,
		CircuitBreakerThreshold: 0,
		CircuitBreakerTimeoutMs: 50,
	}, func(context.Context) error {
		calls++
		return errors.New("always fails")
	})

	assert.False(t, res.Success)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestRunPartialRollbackRestoresResourcesAndAgents(t *testing.T) {
	store := NewStore()
	pc := newTestPatternContext(t)
	cp := NewCheckpointFromContext("P", pc, nil)
	require.NoError(t, store.Append(context.Background(), cp))

	for _, a := range pc.Agents.List() {
		a.Status = coordination.StatusError
	}
	require.NoError(t, pc.Resources.ReserveMemory("extra", 10))

	rm := NewRecoveryManager(store, nil)
	res := rm.RunPartialRollback(context.Background(), PartialRollback{
		CheckpointID:       cp.ID,
		RestoreResources:   true,
		RestoreAgentStates: true,
		RollbackSteps:      []string{"step1", "step2"},
	}, pc)

	assert.True(t, res.Success)
	for _, a := range pc.Agents.List() {
		assert.Equal(t, coordination.StatusBusy, a.Status)
	}
	_, extraStillThere := pc.Resources.Snapshot().Memory.Reservations["extra"]
	assert.False(t, extraStillThere)
}

func TestRunPartialRollbackUnknownCheckpoint(t *testing.T) {
	rm := NewRecoveryManager(NewStore(), nil)
	pc := newTestPatternContext(t)
	res := rm.RunPartialRollback(context.Background(), PartialRollback{CheckpointID: "missing"}, pc)
	assert.False(t, res.Success)
}

func TestRunGracefulDegradationMatchesCriteria(t *testing.T) {
	rm := NewRecoveryManager(NewStore(), nil)
	fallback, res := rm.RunGracefulDegradation(GracefulDegradation{
		PrimaryPatternID:    "P",
		FallbackPatterns:    []coordination.PatternId{"P-lite"},
		DegradationCriteria: []string{"overloaded"},
	}, errors.New("resource overloaded"))

	assert.True(t, res.Success)
	assert.Equal(t, coordination.PatternId("P-lite"), fallback)
}

func TestRunGracefulDegradationNoMatch(t *testing.T) {
	rm := NewRecoveryManager(NewStore(), nil)
	fallback, res := rm.RunGracefulDegradation(GracefulDegradation{
		FallbackPatterns:    []coordination.PatternId{"P-lite"},
		DegradationCriteria: []string{"overloaded"},
	}, errors.New("unrelated error"))

	assert.False(t, res.Success)
	assert.Empty(t, fallback)
}

func TestRunStateReconstructionMergeTieBreak(t *testing.T) {
	store := NewStore()
	pc1 := newTestPatternContext(t)
	cp1 := NewCheckpointFromContext("P", pc1, nil)
	require.NoError(t, store.Append(context.Background(), cp1))

	pc2 := newTestPatternContext(t)
	cp2 := NewCheckpointFromContext("P", pc2, nil)
	require.NoError(t, store.Append(context.Background(), cp2))

	rm := NewRecoveryManager(store, nil)
	target := newTestPatternContext(t)
	res := rm.RunStateReconstruction(context.Background(), "P", StateReconstruction{
		CheckpointIDs:          []coordination.CheckpointId{cp1.ID, cp2.ID},
		ReconstructionStrategy: ReconstructMerge,
	}, target)

	assert.True(t, res.Success)
	assert.Equal(t, 1.0, res.StateConsistencyScore)
}

func TestRunStateReconstructionNoCheckpointsResolved(t *testing.T) {
	rm := NewRecoveryManager(NewStore(), nil)
	target := newTestPatternContext(t)
	res := rm.RunStateReconstruction(context.Background(), "P", StateReconstruction{
		CheckpointIDs: []coordination.CheckpointId{"missing"},
	}, target)
	assert.False(t, res.Success)
}

func TestRunResourceAwareRecoveryAbortsOnConstraintViolation(t *testing.T) {
	rm := NewRecoveryManager(NewStore(), nil)
	pc := newTestPatternContext(t)
	called := false
	res := rm.RunResourceAwareRecovery(context.Background(), ResourceAwareRecovery{
		MinAvailableMemoryBytes: 1 << 40, // far more than available
		RecoveryPriority:        PriorityHigh,
	}, pc, func(context.Context) error {
		called = true
		return nil
	})

	assert.False(t, res.Success)
	assert.False(t, called, "execute must not run when constraints are unmet")
}

func TestRunResourceAwareRecoveryPriorityTimeoutTable(t *testing.T) {
	rm := NewRecoveryManager(NewStore(), nil)
	pc := newTestPatternContext(t)

	res := rm.RunResourceAwareRecovery(context.Background(), ResourceAwareRecovery{
		RecoveryPriority: PriorityCritical,
	}, pc, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
		return nil
	})
	assert.True(t, res.Success)
}

type countingExecutor struct {
	calls int
	fail  bool
}

func (e *countingExecutor) Execute(_ context.Context, _ coordination.PatternId, _ *pattern.Context) (*pattern.Result, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("still failing")
	}
	return &pattern.Result{Success: true}, nil
}

func TestExecuteEnhancedRecoveryDispatchesIntelligentRetry(t *testing.T) {
	exec := &countingExecutor{}
	rm := NewRecoveryManager(NewStore(), nil).WithExecutor(exec)
	pc := newTestPatternContext(t)

	res, err := rm.ExecuteEnhancedRecovery(context.Background(), "P", IntelligentRetry{
		MaxAttempts:             2,
		InitialBackoffMs:        1,
		MaxBackoffMs:            2,
		BackoffMultiplier:       2,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeoutMs: 50,
	}, pc, errors.New("original"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, exec.calls)
}

func TestExecuteEnhancedRecoveryRetryWithoutExecutorIsError(t *testing.T) {
	rm := NewRecoveryManager(NewStore(), nil)
	pc := newTestPatternContext(t)
	_, err := rm.ExecuteEnhancedRecovery(context.Background(), "P", IntelligentRetry{MaxAttempts: 1}, pc, errors.New("original"))
	require.Error(t, err)
}

func TestExecuteEnhancedRecoveryDispatchesPartialRollback(t *testing.T) {
	store := NewStore()
	pc := newTestPatternContext(t)
	cp := NewCheckpointFromContext("P", pc, nil)
	require.NoError(t, store.Append(context.Background(), cp))

	rm := NewRecoveryManager(store, nil)
	res, err := rm.ExecuteEnhancedRecovery(context.Background(), "P", PartialRollback{
		CheckpointID:     cp.ID,
		RestoreResources: true,
	}, pc, errors.New("original"))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecuteEnhancedRecoveryGracefulDegradationRunsFallback(t *testing.T) {
	exec := &countingExecutor{}
	rm := NewRecoveryManager(NewStore(), nil).WithExecutor(exec)
	pc := newTestPatternContext(t)

	res, err := rm.ExecuteEnhancedRecovery(context.Background(), "P", GracefulDegradation{
		PrimaryPatternID:    "P",
		FallbackPatterns:    []coordination.PatternId{"P-lite"},
		DegradationCriteria: []string{"overloaded"},
	}, pc, errors.New("resource overloaded"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, exec.calls, "viable fallback pattern is re-executed")
}

func TestRunAgentSpecificRecoveryUsesFallback(t *testing.T) {
	rm := NewRecoveryManager(NewStore(), nil)
	pc := newTestPatternContext(t)
	agentID := pc.Agents.List()[0].ID
	fallbackID := coordination.NewAgentId()

	res := rm.RunAgentSpecificRecovery(context.Background(), AgentSpecificRecovery{
		AgentRecoveryStrategies: map[coordination.AgentId]string{agentID: "restart"},
		CoordinationTimeoutMs:   1000,
		FallbackAgents:          []coordination.AgentId{fallbackID},
	}, pc, func(_ context.Context, _ coordination.AgentId, _ string) error {
		return errors.New("recovery failed")
	})

	assert.True(t, res.AgentOutcomes[agentID])
	assert.InDelta(t, 0.8, res.StateConsistencyScore, 1e-9)
}
