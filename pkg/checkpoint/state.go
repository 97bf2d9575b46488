// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

// Package checkpoint implements Checkpoint & Recovery (C7, spec §4.4):
// capturing and restoring pattern, agent, and resource state, and the
// six Enhanced Recovery Strategies.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/kadirpekel/coordforge/pkg/pattern"
)

// AgentSnapshot is the per-agent slice of a checkpoint (status, workload,
// assigned tasks, metrics — spec §3 Checkpoint).
type AgentSnapshot struct {
	AgentID  coordination.AgentId  `json:"agent_id"`
	Status   coordination.Status   `json:"status"`
	Health   coordination.Health   `json:"health"`
	Workload int                   `json:"workload"`
	Tasks    []coordination.TaskId `json:"tasks,omitempty"`
	Metrics  coordination.Metrics  `json:"metrics"`
}

// PatternCheckpoint captures, at one instant, the pattern state, every
// agent's snapshot, and a full resource pool snapshot (spec §3
// Checkpoint). It is immutable once written and keyed by
// `<pattern_id>_<timestamp_ms>`.
type PatternCheckpoint struct {
	ID            coordination.CheckpointId     `json:"id"`
	SchemaVersion string                        `json:"schema_version"`
	PatternID     coordination.PatternId        `json:"pattern_id"`
	PatternState  pattern.StateSnapshot         `json:"pattern_state"`
	Agents        []AgentSnapshot               `json:"agents"`
	Resources     coordination.ResourceSnapshot `json:"resources"`
	CreatedAt     time.Time                     `json:"created_at"`
	Metadata      map[string]any                `json:"metadata,omitempty"`
}

// Serialize converts the checkpoint to JSON bytes for persistence.
func (c *PatternCheckpoint) Serialize() ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cannot serialize nil checkpoint")
	}
	return json.Marshal(c)
}

// Deserialize reconstructs a PatternCheckpoint from JSON bytes.
func Deserialize(data []byte) (*PatternCheckpoint, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot deserialize empty data")
	}
	var cp PatternCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// NewCheckpointFromContext builds a PatternCheckpoint using whatever
// PatternState is bound to pc (spec §4.4: "takes full snapshots of
// context (agents, resources, state, data)").
func NewCheckpointFromContext(patternID coordination.PatternId, pc *pattern.Context, metadata map[string]any) *PatternCheckpoint {
	state, _ := pc.BoundState()
	return NewCheckpoint(patternID, state, pc, metadata)
}

// NewCheckpoint builds a PatternCheckpoint from a live context and state.
func NewCheckpoint(patternID coordination.PatternId, state pattern.StateSnapshot, pc *pattern.Context, metadata map[string]any) *PatternCheckpoint {
	now := coordination.Now()
	agents := make([]AgentSnapshot, 0)
	for _, a := range pc.Agents.List() {
		snap := a.Snapshot()
		agents = append(agents, AgentSnapshot{
			AgentID:  snap.ID,
			Status:   snap.Status,
			Health:   snap.Health,
			Workload: snap.Metrics.TasksRunning,
			Tasks:    taskList(snap.CurrentTask),
			Metrics:  snap.Metrics,
		})
	}
	return &PatternCheckpoint{
		ID:            coordination.NewCheckpointId(patternID, now),
		SchemaVersion: coordination.SchemaVersion,
		PatternID:     patternID,
		PatternState:  state,
		Agents:        agents,
		Resources:     pc.Resources.Snapshot(),
		CreatedAt:     now,
		Metadata:      metadata,
	}
}

func taskList(t *coordination.TaskId) []coordination.TaskId {
	if t == nil {
		return nil
	}
	return []coordination.TaskId{*t}
}

// Restore overwrites mutable agent fields for agents present in both the
// context and the snapshot (others untouched), and overwrites the
// resource pool and the bound pattern state's restorable fields
// (spec §4.4 restore).
func (c *PatternCheckpoint) Restore(pc *pattern.Context) {
	for _, snap := range c.Agents {
		if a, ok := pc.Agents.Get(snap.AgentID); ok {
			a.Restore(coordination.Snapshot{
				ID:          snap.AgentID,
				Status:      snap.Status,
				Health:      snap.Health,
				Metrics:     snap.Metrics,
				CurrentTask: firstTask(snap.Tasks),
			})
		}
	}
	pc.Resources.Restore(c.Resources)
	pc.RestoreBoundState(c.PatternState)
}

func firstTask(tasks []coordination.TaskId) *coordination.TaskId {
	if len(tasks) == 0 {
		return nil
	}
	return &tasks[0]
}
