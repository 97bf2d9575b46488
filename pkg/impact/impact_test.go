// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package impact

import (
	"testing"

	"github.com/kadirpekel/coordforge/pkg/config"
	"github.com/kadirpekel/coordforge/pkg/depgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGraphWithNode(t *testing.T, id depgraph.NodeId, depType depgraph.Type) *depgraph.Graph {
	t.Helper()
	g := depgraph.New()
	require.NoError(t, g.AddNode(depgraph.NodeConfig{ID: id, DependencyType: depType}))
	return g
}

func TestDiscretize(t *testing.T) {
	assert.Equal(t, RiskLow, Discretize(0.1))
	assert.Equal(t, RiskMedium, Discretize(0.3))
	assert.Equal(t, RiskHigh, Discretize(0.6))
	assert.Equal(t, RiskCritical, Discretize(0.9))
}

func TestAnalyzeDependencyImpactScoreWithinBounds(t *testing.T) {
	g := newGraphWithNode(t, "svc", depgraph.TypeInfrastructure)
	a := New(config.ImpactConfig{})

	result, err := a.AnalyzeDependencyImpact("svc", g)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.BusinessImpactScore, 0.0)
	assert.LessOrEqual(t, result.BusinessImpactScore, 1.0)
	assert.Equal(t, Discretize(result.BusinessImpactScore), result.RiskLevel)
	assert.Equal(t, 1800.0, result.EstimatedDowntime.Seconds())
}

func TestAnalyzeDependencyImpactUnknownNode(t *testing.T) {
	g := depgraph.New()
	a := New(config.ImpactConfig{})
	_, err := a.AnalyzeDependencyImpact("missing", g)
	assert.Error(t, err)
}

func TestCriticalFunctionsImpact(t *testing.T) {
	a := New(config.ImpactConfig{})
	assert.Equal(t, 0.3, a.criticalFunctionsImpact("unregistered"))

	a.AddCriticalFunctions("svc", []string{"checkout", "payments"})
	assert.InDelta(t, 0.5, a.criticalFunctionsImpact("svc"), 1e-9)
}

func TestFindAffectedServicesTransitiveClosure(t *testing.T) {
	g := depgraph.New()
	require.NoError(t, g.AddNode(depgraph.NodeConfig{ID: "core"}))
	require.NoError(t, g.AddNode(depgraph.NodeConfig{ID: "api"}))
	require.NoError(t, g.AddNode(depgraph.NodeConfig{ID: "ui"}))
	require.NoError(t, g.AddEdge("core", "api", depgraph.TypeDataFlow, 1.0, nil))
	require.NoError(t, g.AddEdge("api", "ui", depgraph.TypeApiCall, 1.0, nil))

	affected := findAffectedServices("core", g)
	assert.ElementsMatch(t, []depgraph.NodeId{"core", "api", "ui"}, affected)
}

func TestAnalyzeDependencyImpactReflectsHealth(t *testing.T) {
	g := newGraphWithNode(t, "svc", depgraph.TypeApiCall)
	require.NoError(t, g.UpdateHealthStatus("svc", depgraph.HealthDown))
	a := New(config.ImpactConfig{})

	result, err := a.AnalyzeDependencyImpact("svc", g)
	require.NoError(t, err)
	assert.Greater(t, result.BusinessImpactScore, 0.0)
}

func TestPredictHealthInsufficientData(t *testing.T) {
	p := NewPredictive(config.PredictiveConfig{})
	p.Record("svc", depgraph.HealthMetrics{Availability: 1, ResponseTimeMs: 50})

	_, err := p.PredictHealth("svc")
	require.Error(t, err)
}

func TestPredictHealthEnsembleWeightsSumToOne(t *testing.T) {
	p := NewPredictive(config.PredictiveConfig{})
	for i := 0; i < 12; i++ {
		p.Record("svc", depgraph.HealthMetrics{
			Availability:   0.99,
			ErrorRate:      0.01,
			ResponseTimeMs: 80,
		})
	}

	pred, err := p.PredictHealth("svc")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pred.HealthScore, 0.0)
	assert.LessOrEqual(t, pred.HealthScore, 1.0)
}

func TestDetectAnomaliesLowAvailability(t *testing.T) {
	p := NewPredictive(config.PredictiveConfig{})
	for i := 0; i < 5; i++ {
		p.Record("svc", depgraph.HealthMetrics{Availability: 0.99, ResponseTimeMs: 50})
	}
	p.Record("svc", depgraph.HealthMetrics{Availability: 0.5, ResponseTimeMs: 50})

	anomalies := p.DetectAnomalies("svc")
	require.NotEmpty(t, anomalies)
	found := false
	for _, a := range anomalies {
		if a.Metric == "availability" {
			found = true
			assert.Equal(t, AnomalyCritical, a.Severity)
		}
	}
	assert.True(t, found)
}

func TestAnalyzeTrendRequiresHistory(t *testing.T) {
	p := NewPredictive(config.PredictiveConfig{})
	_, err := p.AnalyzeTrend("svc")
	require.Error(t, err)
}

func TestAnalyzeTrendImproving(t *testing.T) {
	p := NewPredictive(config.PredictiveConfig{})
	for i := 0; i < 10; i++ {
		p.Record("svc", depgraph.HealthMetrics{
			Availability:   0.5 + float64(i)*0.05,
			ErrorRate:      0.0,
			ResponseTimeMs: 50,
		})
	}

	trend, err := p.AnalyzeTrend("svc")
	require.NoError(t, err)
	assert.Equal(t, TrendImproving, trend.Direction)
}

func TestLinearRegressionFlatLine(t *testing.T) {
	slope, _, rSquared := linearRegression([]float64{1, 1, 1, 1})
	assert.InDelta(t, 0, slope, 1e-9)
	assert.Equal(t, 1.0, rSquared)
}
