// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package coordination

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentRejectsEmptyFields(t *testing.T) {
	_, err := NewAgent("", "name", "type", "v1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = NewAgent(NewAgentId(), "", "type", "v1")
	require.Error(t, err)
}

func TestAgentIsAvailable(t *testing.T) {
	a, err := NewAgent(NewAgentId(), "agent", "worker", "v1")
	require.NoError(t, err)
	assert.True(t, a.IsAvailable())

	a.Health = HealthOffline
	assert.False(t, a.IsAvailable())

	a.Health = HealthHealthy
	a.Status = StatusStopped
	assert.False(t, a.IsAvailable())
}

func TestAgentStale(t *testing.T) {
	a, err := NewAgent(NewAgentId(), "agent", "worker", "v1")
	require.NoError(t, err)
	now := Now()
	assert.True(t, a.Stale(time.Minute, now), "missing heartbeat is always stale")

	a.Heartbeat(now.Add(-2 * time.Minute))
	assert.True(t, a.Stale(time.Minute, now))

	a.Heartbeat(now)
	assert.False(t, a.Stale(time.Minute, now))
}

func TestAgentScore(t *testing.T) {
	a, err := NewAgent(NewAgentId(), "agent", "worker", "v1")
	require.NoError(t, err)
	a.Priority = 100
	a.Metrics.TasksRunning = 0

	// score = 0.4*health_score(1.0) + 0.3*priority(100) + 0.3*load_score(100/1)
	want := 0.4*1.0 + 0.3*100 + 0.3*100
	assert.InDelta(t, want, a.Score(), 1e-9)
}

func TestAgentSnapshotAndRestore(t *testing.T) {
	a, err := NewAgent(NewAgentId(), "agent", "worker", "v1")
	require.NoError(t, err)
	a.AddCapability("c1")
	a.Status = StatusBusy
	a.Metrics.TasksCompleted = 5

	snap := a.Snapshot()
	assert.Equal(t, StatusBusy, snap.Status)
	assert.Contains(t, snap.Capabilities, "c1")

	// Mutate live agent, then restore from the earlier snapshot.
	a.Status = StatusError
	a.Metrics.TasksCompleted = 99
	a.Restore(snap)
	assert.Equal(t, StatusBusy, a.Status)
	assert.Equal(t, int64(5), a.Metrics.TasksCompleted)
}

func TestAgentRegistryRegisterGetDeregister(t *testing.T) {
	reg := NewAgentRegistry()
	a, err := NewAgent(NewAgentId(), "agent", "worker", "v1")
	require.NoError(t, err)
	a.AddCapability("code_review")

	require.NoError(t, reg.Register(a))
	assert.Equal(t, 1, reg.Count())

	got, ok := reg.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ID)

	assert.Len(t, reg.WithCapability("code_review"), 1)
	assert.Len(t, reg.WithCapability("deploy"), 0)

	require.NoError(t, reg.Deregister(a.ID))
	assert.Equal(t, 0, reg.Count())
}

func TestAgentRegistryEvictStale(t *testing.T) {
	reg := NewAgentRegistry()
	fresh, _ := NewAgent(NewAgentId(), "fresh", "worker", "v1")
	stale, _ := NewAgent(NewAgentId(), "stale", "worker", "v1")

	now := Now()
	fresh.Heartbeat(now)
	stale.Heartbeat(now.Add(-time.Hour))

	require.NoError(t, reg.Register(fresh))
	require.NoError(t, reg.Register(stale))

	evicted := reg.EvictStale(time.Minute, now)
	require.Len(t, evicted, 1)
	assert.Equal(t, stale.ID, evicted[0])
	assert.Equal(t, 1, reg.Count())
}
