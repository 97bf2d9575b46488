// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package pattern

import (
	"sync"
	"time"

	"github.com/kadirpekel/coordforge/pkg/coordination"
)

// Phase is a step in the pattern execution state machine (spec §4.2).
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseValidating   Phase = "validating"
	PhaseExecuting    Phase = "executing"
	PhaseCoordinating Phase = "coordinating"
	PhaseCompleting   Phase = "completing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhaseCancelled    Phase = "cancelled"
	PhaseRollingBack  Phase = "rolling_back"
)

// terminal reports whether phase admits no further transitions (spec
// §3: "Phase monotonicity: once Completed/Failed/Cancelled, no further
// transitions").
func (p Phase) terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Status is the coarse-grained execution status mirrored alongside Phase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// State is the PatternState (spec §3): per-execution phase, progress,
// status, and a free-form data bag, guarded by a per-pattern lock since
// the executor is the single writer and readers want consistent
// snapshots (spec §4.2 concurrency note).
type State struct {
	mu sync.RWMutex

	PatternID coordination.PatternId
	Phase     Phase
	StartedAt time.Time
	EndedAt   *time.Time
	Progress  float64
	Status    Status
	Data      map[string]any
}

// NewState creates a fresh PatternState in the Initializing phase (spec §4.2 step 2).
func NewState(patternID coordination.PatternId) *State {
	return &State{
		PatternID: patternID,
		Phase:     PhaseInitializing,
		StartedAt: coordination.Now(),
		Progress:  0,
		Status:    StatusPending,
		Data:      make(map[string]any),
	}
}

// Transition moves to a new phase, refusing to leave a terminal phase
// (spec §3 phase monotonicity).
func (s *State) Transition(phase Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Phase.terminal() {
		return nil
	}
	s.Phase = phase
	switch phase {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		now := coordination.Now()
		s.EndedAt = &now
		if phase == PhaseCompleted {
			s.Status = StatusCompleted
		} else if phase == PhaseFailed {
			s.Status = StatusFailed
		} else {
			s.Status = StatusCancelled
		}
	case PhaseExecuting, PhaseCoordinating:
		s.Status = StatusRunning
	}
	return nil
}

// SetProgress advances progress monotonically toward 1.0 (spec §4.2
// step 5). A lower value than the current progress is ignored.
func (s *State) SetProgress(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p > s.Progress {
		s.Progress = p
	}
}

// CurrentPhase returns the current phase under lock.
func (s *State) CurrentPhase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Phase
}

// IsTerminal reports whether the state has reached a terminal phase.
func (s *State) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Phase.terminal()
}

// StateSnapshot is a copyable, lock-free view of a State, used by
// external readers and by the Checkpoint store's serialized form.
type StateSnapshot struct {
	PatternID coordination.PatternId `json:"pattern_id"`
	Phase     Phase                  `json:"phase"`
	StartedAt time.Time              `json:"started_at"`
	EndedAt   *time.Time             `json:"ended_at,omitempty"`
	Progress  float64                `json:"progress"`
	Status    Status                 `json:"status"`
	Data      map[string]any         `json:"data,omitempty"`
}

// Snapshot returns an immutable copy of the state for external readers.
func (s *State) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		data[k] = v
	}
	return StateSnapshot{
		PatternID: s.PatternID,
		Phase:     s.Phase,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Progress:  s.Progress,
		Status:    s.Status,
		Data:      data,
	}
}

// RestoreSnapshot overwrites the state's progress and data bag from a
// checkpointed snapshot. Phase and status stay with the live state
// machine: a terminal phase admits no transitions, and mid-run the
// executor owns them.
func (s *State) RestoreSnapshot(snap StateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Progress = snap.Progress
	data := make(map[string]any, len(snap.Data))
	for k, v := range snap.Data {
		data[k] = v
	}
	s.Data = data
}

// ValidationResult is the output of the Validation Engine (C8, spec §4.3).
type ValidationResult struct {
	IsValid  bool
	Errors   []string
	Warnings []string
	Details  map[string]any
}

// PerformanceMetrics accompanies a successful PatternResult.
type PerformanceMetrics struct {
	ExecutionTimeMs       int64
	CoordinationOverheadS float64
	RetriesUsed           int
	CheckpointsRestored   int
}

// Result is the PatternResult returned on success (spec §4.2).
type Result struct {
	PatternID          coordination.PatternId
	Success            bool
	Data               map[string]any
	PerformanceMetrics PerformanceMetrics
	CompletedAt        time.Time
	Metadata           map[string]any
	ExecutionTimeMs    int64
}
