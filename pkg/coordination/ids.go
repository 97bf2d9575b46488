// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

// Package coordination holds the shared identity, agent, and resource
// data model (C1-C3) that every other coordination-engine package
// builds on.
package coordination

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentId, TaskId, PatternId, CheckpointId and ConflictId are opaque,
// string-comparable, globally unique identifiers. The empty string is
// never a valid value.
type (
	AgentId      string
	TaskId       string
	PatternId    string
	CheckpointId string
	ConflictId   string
)

func (id AgentId) Valid() bool      { return id != "" }
func (id TaskId) Valid() bool       { return id != "" }
func (id PatternId) Valid() bool    { return id != "" }
func (id CheckpointId) Valid() bool { return id != "" }
func (id ConflictId) Valid() bool   { return id != "" }

// NewAgentId, NewTaskId and NewConflictId mint collision-resistant ids.
func NewAgentId() AgentId           { return AgentId(uuid.NewString()) }
func NewTaskId() TaskId             { return TaskId(uuid.NewString()) }
func NewConflictId() ConflictId     { return ConflictId(uuid.NewString()) }
func NewPatternExecutionId() string { return uuid.NewString() }

// NewCheckpointId builds the checkpoint key `<pattern_id>_<timestamp_ms>`
// mandated by spec §3 (Checkpoint) and §6 (persisted state layout).
func NewCheckpointId(patternID PatternId, at time.Time) CheckpointId {
	return CheckpointId(fmt.Sprintf("%s_%d", patternID, at.UnixMilli()))
}

// Now returns the current instant truncated to millisecond resolution in
// UTC, matching the Timestamp type in spec §3.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// SchemaVersion is carried on every top-level persisted record (spec §6).
const SchemaVersion = "1.0.0"
