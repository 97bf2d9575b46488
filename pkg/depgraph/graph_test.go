// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package depgraph

import (
	"errors"
	"testing"

	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphEmpty(t *testing.T) {
	g := New()
	assert.Equal(t, 0, g.NodeCount())
}

func TestAddNode(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "svc-a", Name: "service a"}))
	n, ok := g.Node("svc-a")
	require.True(t, ok)
	assert.Equal(t, HealthUnknown, n.HealthStatus)
	assert.Nil(t, n.HealthMetrics)
}

func TestAddDuplicateNode(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "svc-a"}))
	err := g.AddNode(NodeConfig{ID: "svc-a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, coordination.ErrAlreadyExists))
}

func TestAddEdge(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "a"}))
	require.NoError(t, g.AddNode(NodeConfig{ID: "b"}))
	require.NoError(t, g.AddEdge("a", "b", TypeApiCall, 0.8, []string{"read"}))

	assert.Equal(t, []NodeId{"b"}, g.GetDependents("a"))
	assert.Equal(t, []NodeId{"a"}, g.GetDependencies("b"))
}

func TestAddEdgeRejectsBadStrength(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "a"}))
	require.NoError(t, g.AddNode(NodeConfig{ID: "b"}))
	err := g.AddEdge("a", "b", TypeApiCall, 1.5, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, coordination.ErrValidation))
}

func TestCircularDependencyRejectedAndRolledBack(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "a"}))
	require.NoError(t, g.AddNode(NodeConfig{ID: "b"}))
	require.NoError(t, g.AddNode(NodeConfig{ID: "c"}))

	require.NoError(t, g.AddEdge("a", "b", TypeDataFlow, 1.0, nil))
	require.NoError(t, g.AddEdge("b", "c", TypeDataFlow, 1.0, nil))

	err := g.AddEdge("c", "a", TypeDataFlow, 1.0, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, coordination.ErrCircularDependency))

	// The speculative insertion must have been rolled back.
	assert.Empty(t, g.GetDependents("c"))
	assert.Empty(t, g.GetDependencies("a"))
	assert.Empty(t, g.FindCircularDependencies())
}

func TestFindCircularDependencies(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "a"}))
	require.NoError(t, g.AddNode(NodeConfig{ID: "b"}))
	require.NoError(t, g.AddEdge("a", "b", TypeDataFlow, 1.0, nil))
	assert.Empty(t, g.FindCircularDependencies())
}

func TestGetDependentsAndDependencies(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "core"}))
	require.NoError(t, g.AddNode(NodeConfig{ID: "api"}))
	require.NoError(t, g.AddNode(NodeConfig{ID: "ui"}))
	require.NoError(t, g.AddEdge("core", "api", TypeDataFlow, 0.9, nil))
	require.NoError(t, g.AddEdge("api", "ui", TypeApiCall, 0.7, nil))

	assert.ElementsMatch(t, []NodeId{"api"}, g.GetDependents("core"))
	assert.ElementsMatch(t, []NodeId{"ui"}, g.GetDependents("api"))
	assert.ElementsMatch(t, []NodeId{"core"}, g.GetDependencies("api"))
}

func TestRemoveNodeCascadesEdges(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "a"}))
	require.NoError(t, g.AddNode(NodeConfig{ID: "b"}))
	require.NoError(t, g.AddEdge("a", "b", TypeDataFlow, 1.0, nil))

	require.NoError(t, g.RemoveNode("b"))
	_, ok := g.Node("b")
	assert.False(t, ok)
	assert.Empty(t, g.GetDependents("a"))
}

func TestUpdateHealthStatus(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "a"}))
	require.NoError(t, g.UpdateHealthStatus("a", HealthDegraded))
	n, _ := g.Node("a")
	assert.Equal(t, HealthDegraded, n.HealthStatus)
}

func TestUpdateHealthMetricsDerivesStatus(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "a"}))
	require.NoError(t, g.UpdateHealthMetrics("a", HealthMetrics{
		Availability:   0.99,
		ErrorRate:      0.0,
		ResponseTimeMs: 50,
	}))
	n, _ := g.Node("a")
	assert.Equal(t, HealthHealthy, n.HealthStatus)
	require.NotNil(t, n.HealthMetrics)
}

func TestToDotRendersNodesAndEdges(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeConfig{ID: "a", Name: "service-a"}))
	require.NoError(t, g.AddNode(NodeConfig{ID: "b", Name: "service-b"}))
	require.NoError(t, g.AddEdge("a", "b", TypeApiCall, 0.5, nil))

	dot := g.ToDot()
	assert.Contains(t, dot, "digraph dependencies")
	assert.Contains(t, dot, `"a" -> "b"`)
	assert.Contains(t, dot, "api_call")
}

func TestHealthStatusFromScore(t *testing.T) {
	assert.Equal(t, HealthHealthy, HealthStatusFromScore(0.95))
	assert.Equal(t, HealthDegraded, HealthStatusFromScore(0.75))
	assert.Equal(t, HealthUnhealthy, HealthStatusFromScore(0.5))
	assert.Equal(t, HealthDown, HealthStatusFromScore(0.1))
}
