// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package validation

import (
	"context"
	"testing"

	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/kadirpekel/coordforge/pkg/pattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contextWithAgent(t *testing.T, capability string, memory uint64) *pattern.Context {
	t.Helper()
	agents := coordination.NewAgentRegistry()
	if capability != "" {
		a, err := coordination.NewAgent(coordination.NewAgentId(), "agent", "worker", "v1")
		require.NoError(t, err)
		a.AddCapability(capability)
		require.NoError(t, agents.Register(a))
	}
	resources := coordination.NewResourcePool(memory, 1, 0)
	return pattern.NewContext(agents, resources, pattern.ExecConfig{})
}

// Seed scenario 1 (spec §8): happy path — capability and resource present.
func TestValidateHappyPath(t *testing.T) {
	e := NewEngine()
	pc := contextWithAgent(t, "c1", 1<<30)
	md := pattern.Metadata{
		ID:                   coordination.PatternId("P"),
		RequiredCapabilities: []string{"c1"},
		RequiredResources:    []string{"memory"},
	}

	res, err := e.Validate(context.Background(), md, pc)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
}

// Seed scenario 2 (spec §8): no agent has the required capability.
func TestValidateMissingCapability(t *testing.T) {
	e := NewEngine()
	pc := contextWithAgent(t, "other", 1<<30)
	md := pattern.Metadata{
		ID:                   coordination.PatternId("P"),
		RequiredCapabilities: []string{"c1"},
	}

	res, err := e.Validate(context.Background(), md, pc)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "No agent found with capability: c1")
}

func TestValidateEmptyAgentSetIsAlwaysAnError(t *testing.T) {
	e := NewEngine()
	agents := coordination.NewAgentRegistry()
	resources := coordination.NewResourcePool(0, 0, 0)
	pc := pattern.NewContext(agents, resources, pattern.ExecConfig{})

	res, err := e.Validate(context.Background(), pattern.Metadata{}, pc)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "no agents available in context")
}

func TestValidateResourceChecks(t *testing.T) {
	e := NewEngine()

	t.Run("memory exhausted", func(t *testing.T) {
		pc := contextWithAgent(t, "c1", 0)
		md := pattern.Metadata{RequiredResources: []string{"memory"}}
		res, err := e.Validate(context.Background(), md, pc)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
	})

	t.Run("custom resource present", func(t *testing.T) {
		pc := contextWithAgent(t, "c1", 1)
		pc.Resources.Custom["gpu"] = true
		md := pattern.Metadata{RequiredResources: []string{"gpu"}}
		res, err := e.Validate(context.Background(), md, pc)
		require.NoError(t, err)
		assert.True(t, res.IsValid)
	})

	t.Run("custom resource missing", func(t *testing.T) {
		pc := contextWithAgent(t, "c1", 1)
		md := pattern.Metadata{RequiredResources: []string{"gpu"}}
		res, err := e.Validate(context.Background(), md, pc)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
	})
}

func TestValidateDependencies(t *testing.T) {
	e := NewEngine()
	pc := contextWithAgent(t, "c1", 1)
	md := pattern.Metadata{Dependencies: []coordination.PatternId{"upstream"}}

	res, err := e.Validate(context.Background(), md, pc)
	require.NoError(t, err)
	assert.False(t, res.IsValid)

	pc.Set("dependency_upstream", true)
	res, err = e.Validate(context.Background(), md, pc)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
}

func TestValidateConstraints(t *testing.T) {
	e := NewEngine()
	pc := contextWithAgent(t, "c1", 1)

	md := pattern.Metadata{
		Constraints: []pattern.Constraint{
			{Name: "hard-fails", IsHard: true, Check: func(*pattern.Context) bool { return false }},
			{Name: "soft-fails", IsHard: false, Check: func(*pattern.Context) bool { return false }},
		},
	}

	res, err := e.Validate(context.Background(), md, pc)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "constraint violated: hard-fails")
	assert.Contains(t, res.Warnings, "soft constraint not met: soft-fails")
}

func TestValidateAccumulatesAllErrors(t *testing.T) {
	e := NewEngine()
	agents := coordination.NewAgentRegistry()
	resources := coordination.NewResourcePool(0, 0, 0)
	pc := pattern.NewContext(agents, resources, pattern.ExecConfig{})

	md := pattern.Metadata{
		RequiredCapabilities: []string{"c1", "c2"},
		RequiredResources:    []string{"memory", "cpu"},
	}
	res, err := e.Validate(context.Background(), md, pc)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	// empty-agent-set + 2 capability errors + 2 resource errors
	assert.GreaterOrEqual(t, len(res.Errors), 5)
}
