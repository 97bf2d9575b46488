// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package checkpoint

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/kadirpekel/coordforge/pkg/config"
	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/kadirpekel/coordforge/pkg/pattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPatternContext(t *testing.T) *pattern.Context {
	t.Helper()
	agents := coordination.NewAgentRegistry()
	a, err := coordination.NewAgent(coordination.NewAgentId(), "agent", "worker", "v1")
	require.NoError(t, err)
	a.Status = coordination.StatusBusy
	a.Metrics.TasksCompleted = 3
	require.NoError(t, agents.Register(a))

	resources := coordination.NewResourcePool(1024, 4, 100)
	require.NoError(t, resources.ReserveMemory("job-1", 256))

	pc := pattern.NewContext(agents, resources, pattern.ExecConfig{})
	pc.BindState(pattern.NewState(coordination.PatternId("P")))
	return pc
}

func TestManagerCreateAndRestore(t *testing.T) {
	m := NewManager(NewStore(), config.CheckpointConfig{})
	pc := newTestPatternContext(t)

	id, err := m.Create(context.Background(), "P", pc, map[string]any{"reason": "initial"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Mutate live state, then restore: the checkpoint must win.
	for _, a := range pc.Agents.List() {
		a.Status = coordination.StatusError
	}
	require.NoError(t, pc.Resources.ReserveMemory("job-2", 100))

	require.NoError(t, m.Restore(context.Background(), id, pc))
	for _, a := range pc.Agents.List() {
		assert.Equal(t, coordination.StatusBusy, a.Status)
	}
	_, stillReserved := pc.Resources.Snapshot().Memory.Reservations["job-1"]
	assert.True(t, stillReserved)
	_, shouldBeGone := pc.Resources.Snapshot().Memory.Reservations["job-2"]
	assert.False(t, shouldBeGone)
}

func TestManagerRestoreUnknownCheckpoint(t *testing.T) {
	m := NewManager(NewStore(), config.CheckpointConfig{})
	pc := newTestPatternContext(t)
	err := m.Restore(context.Background(), "missing", pc)
	require.Error(t, err)
}

func TestManagerRestoreLatestPicksMostRecent(t *testing.T) {
	m := NewManager(NewStore(), config.CheckpointConfig{})
	pc := newTestPatternContext(t)

	_, err := m.CreateFromState(context.Background(), "P", pattern.NewState("P").Snapshot(), pc, nil)
	require.NoError(t, err)

	for _, a := range pc.Agents.List() {
		a.Status = coordination.StatusIdle
	}
	secondID, err := m.CreateFromState(context.Background(), "P", pattern.NewState("P").Snapshot(), pc, nil)
	require.NoError(t, err)

	for _, a := range pc.Agents.List() {
		a.Status = coordination.StatusError
	}

	restoredID, ok, err := m.RestoreLatest(context.Background(), "P", pc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, secondID, restoredID)
	for _, a := range pc.Agents.List() {
		assert.Equal(t, coordination.StatusIdle, a.Status)
	}
}

func TestManagerCleanupOldCheckpoints(t *testing.T) {
	store := NewStore()
	m := NewManager(store, config.CheckpointConfig{MaxCount: 1})
	pc := newTestPatternContext(t)

	_, err := m.CreateFromState(context.Background(), "P", pattern.NewState("P").Snapshot(), pc, nil)
	require.NoError(t, err)
	_, err = m.CreateFromState(context.Background(), "P", pattern.NewState("P").Snapshot(), pc, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Count())

	removed := m.CleanupOldCheckpoints(24)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Count())
}

func TestCheckpointSerializeDeserializeRoundTrip(t *testing.T) {
	pc := newTestPatternContext(t)
	cp := NewCheckpointFromContext("P", pc, map[string]any{"k": "v"})

	data, err := cp.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.ID)
	assert.Equal(t, cp.PatternID, got.PatternID)
	assert.Equal(t, coordination.SchemaVersion, got.SchemaVersion)
	assert.Len(t, got.Agents, len(cp.Agents))
}

func TestDurableStoreMirrorsWritesToSQL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "checkpoints.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDurableStore(db, "sqlite")
	require.NoError(t, err)

	pc := newTestPatternContext(t)
	cp := NewCheckpointFromContext("P", pc, map[string]any{"reason": "initial"})
	require.NoError(t, store.Append(context.Background(), cp))

	var payload string
	require.NoError(t, db.QueryRow(`SELECT payload_json FROM pattern_checkpoints WHERE id = ?`, string(cp.ID)).Scan(&payload))

	got, err := Deserialize([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.ID)
	assert.Equal(t, cp.PatternID, got.PatternID)
	assert.Equal(t, coordination.SchemaVersion, got.SchemaVersion)
}

func TestDurableStoreRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = NewDurableStore(db, "oracle")
	require.Error(t, err)
}

func TestStoreRetentionByAge(t *testing.T) {
	store := NewStore()
	pc := newTestPatternContext(t)
	cp := NewCheckpointFromContext("P", pc, nil)
	cp.CreatedAt = coordination.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Append(context.Background(), cp))

	removed := store.Cleanup(24*time.Hour, 0)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.Count())
}
