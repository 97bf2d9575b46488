// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package pattern

import (
	"testing"

	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitionMonotonicity(t *testing.T) {
	s := NewState(coordination.PatternId("p1"))
	require.NoError(t, s.Transition(PhaseValidating))
	require.NoError(t, s.Transition(PhaseCompleted))
	assert.True(t, s.IsTerminal())

	// A terminal phase admits no further transitions.
	require.NoError(t, s.Transition(PhaseFailed))
	assert.Equal(t, PhaseCompleted, s.CurrentPhase())
}

func TestStateProgressMonotonicity(t *testing.T) {
	s := NewState(coordination.PatternId("p1"))
	s.SetProgress(0.5)
	s.SetProgress(0.2) // lower value ignored
	assert.Equal(t, 0.5, s.Snapshot().Progress)
	s.SetProgress(0.9)
	assert.Equal(t, 0.9, s.Snapshot().Progress)
}

func TestStateSnapshotIsIndependentCopy(t *testing.T) {
	s := NewState(coordination.PatternId("p1"))
	s.Data["k"] = "v"
	snap := s.Snapshot()
	s.Data["k"] = "changed"
	assert.Equal(t, "v", snap.Data["k"])
}
