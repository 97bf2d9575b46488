// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package pattern

import (
	"testing"

	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextDataBag(t *testing.T) {
	pc := NewContext(coordination.NewAgentRegistry(), coordination.NewResourcePool(0, 0, 0), ExecConfig{})
	_, ok := pc.Get("missing")
	assert.False(t, ok)

	pc.Set("dependency_svc-a", true)
	v, ok := pc.Get("dependency_svc-a")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestContextCloneIsolatesDataBag(t *testing.T) {
	pc := NewContext(coordination.NewAgentRegistry(), coordination.NewResourcePool(0, 0, 0), ExecConfig{MaxRetries: 2})
	pc.Set("k", "v")

	clone := pc.Clone()
	clone.Set("k", "changed")

	orig, _ := pc.Get("k")
	cloned, _ := clone.Get("k")
	assert.Equal(t, "v", orig)
	assert.Equal(t, "changed", cloned)
	assert.Equal(t, pc.Config.MaxRetries, clone.Config.MaxRetries)
}

func TestContextBindState(t *testing.T) {
	pc := NewContext(coordination.NewAgentRegistry(), coordination.NewResourcePool(0, 0, 0), ExecConfig{})
	_, ok := pc.BoundState()
	assert.False(t, ok)

	s := NewState(coordination.PatternId("p1"))
	pc.BindState(s)
	bound, ok := pc.BoundState()
	require.True(t, ok)
	assert.Equal(t, PhaseInitializing, bound.Phase)
}
