// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

// Package impact implements Impact & Prediction (C11, spec §4.7):
// business-impact scoring, risk discretization, affected-service
// discovery, and a predictive ensemble over historical health metrics.
package impact

import (
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/coordforge/pkg/config"
	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/kadirpekel/coordforge/pkg/depgraph"
)

// RiskLevel is the discretized business-impact score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Discretize maps a [0,1] score to a RiskLevel at the 0.25/0.5/0.75
// thresholds (spec §4.7).
func Discretize(score float64) RiskLevel {
	switch {
	case score < 0.25:
		return RiskLow
	case score < 0.5:
		return RiskMedium
	case score < 0.75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Result is ImpactAnalysisResult (spec §4.7).
type Result struct {
	BusinessImpactScore float64
	RiskLevel           RiskLevel
	AffectedServices    []depgraph.NodeId
	EstimatedDowntime   time.Duration
	CostImpact          float64
	Timestamp           time.Time
}

var baseImpactByType = map[depgraph.Type]float64{
	depgraph.TypeDataFlow:       0.8,
	depgraph.TypeApiCall:        0.7,
	depgraph.TypeInfrastructure: 0.9,
	depgraph.TypeBusinessLogic:  0.6,
	depgraph.TypeSecurity:       0.9,
	depgraph.TypeMonitoring:     0.5,
	depgraph.TypeConfiguration:  0.4,
	depgraph.TypeDeployment:     0.6,
}

var downtimeByType = map[depgraph.Type]time.Duration{
	depgraph.TypeDataFlow:       300 * time.Second,
	depgraph.TypeApiCall:        60 * time.Second,
	depgraph.TypeInfrastructure: 1800 * time.Second,
	depgraph.TypeBusinessLogic:  600 * time.Second,
	depgraph.TypeSecurity:       120 * time.Second,
	depgraph.TypeMonitoring:     300 * time.Second,
	depgraph.TypeConfiguration:  60 * time.Second,
	depgraph.TypeDeployment:     900 * time.Second,
}

var defaultCostPerHour = map[depgraph.Type]float64{
	depgraph.TypeDataFlow:       500,
	depgraph.TypeApiCall:        1000,
	depgraph.TypeInfrastructure: 5000,
	depgraph.TypeBusinessLogic:  2000,
	depgraph.TypeSecurity:       3000,
	depgraph.TypeMonitoring:     200,
	depgraph.TypeConfiguration:  200,
	depgraph.TypeDeployment:     1500,
}

// Analysis is the Impact Analysis engine (spec §4.7), wired against the
// engine-wide ImpactConfig weighting tables.
type Analysis struct {
	mu                sync.RWMutex
	costPerHour       map[depgraph.Type]float64
	criticalFunctions map[depgraph.NodeId][]string
	history           map[depgraph.NodeId][]Result
}

// New builds an impact analysis engine. Downtime costs come from
// cfg.DowntimeCostsPerHour (keyed by the Type's string value) where
// present, falling back to the built-in table otherwise; the
// BusinessMetricsWeights/RiskFactorWeights tables are validated by
// config.ImpactConfig.Validate but the score formula itself is fixed by
// spec (0.3/0.3/0.2/0.2), not reweighted from config.
func New(cfg config.ImpactConfig) *Analysis {
	costs := make(map[depgraph.Type]float64, len(defaultCostPerHour))
	for t, v := range defaultCostPerHour {
		costs[t] = v
	}
	for k, v := range cfg.DowntimeCostsPerHour {
		costs[depgraph.Type(k)] = v
	}
	return &Analysis{
		costPerHour:       costs,
		criticalFunctions: make(map[depgraph.NodeId][]string),
		history:           make(map[depgraph.NodeId][]Result),
	}
}

// AddCriticalFunctions registers the business functions a dependency
// serves, used by the critical-functions term of the impact score.
func (a *Analysis) AddCriticalFunctions(id depgraph.NodeId, functions []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.criticalFunctions[id] = append([]string(nil), functions...)
}

// AnalyzeDependencyImpact implements analyze_dependency_impact (spec
// §4.7): business_impact_score, risk_level, affected_services,
// estimated_downtime, cost_impact.
func (a *Analysis) AnalyzeDependencyImpact(id depgraph.NodeId, g *depgraph.Graph) (Result, error) {
	node, ok := g.Node(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: dependency node %s", coordination.ErrNotFound, id)
	}

	score := a.businessImpactScore(node, g)
	affected := findAffectedServices(id, g)
	downtime := a.estimateDowntime(node)
	cost := a.costImpact(node, downtime)

	result := Result{
		BusinessImpactScore: score,
		RiskLevel:           Discretize(score),
		AffectedServices:    affected,
		EstimatedDowntime:   downtime,
		CostImpact:          cost,
		Timestamp:           coordination.Now(),
	}

	a.mu.Lock()
	a.history[id] = append(a.history[id], result)
	a.mu.Unlock()

	return result, nil
}

// businessImpactScore computes
// 0.3*base_impact(type) + 0.3*critical_functions + 0.2*depth + 0.2*health,
// clipped to 1.0 (spec §4.7).
func (a *Analysis) businessImpactScore(node depgraph.Node, g *depgraph.Graph) float64 {
	base := baseImpactByType[node.Config.DependencyType]
	critical := a.criticalFunctionsImpact(node.ID)
	depth := dependencyDepthImpact(node.ID, g)
	health := healthImpact(node)

	total := base*0.3 + critical*0.3 + depth*0.2 + health*0.2
	if total > 1.0 {
		return 1.0
	}
	return total
}

func (a *Analysis) criticalFunctionsImpact(id depgraph.NodeId) float64 {
	a.mu.RLock()
	functions, ok := a.criticalFunctions[id]
	a.mu.RUnlock()
	if !ok {
		return 0.3
	}
	if len(functions) == 0 {
		return 0.3
	}
	bonus := float64(len(functions)) * 0.1
	if bonus > 0.7 {
		bonus = 0.7
	}
	return 0.3 + bonus
}

func dependencyDepthImpact(id depgraph.NodeId, g *depgraph.Graph) float64 {
	depth := len(g.GetDependents(id))
	v := float64(depth) * 0.05
	if v > 0.5 {
		return 0.5
	}
	return v
}

// healthImpact reads the node's actual health status (the original
// placeholder always returned a fixed 0.5; this graph tracks real
// health, so we use it directly).
func healthImpact(node depgraph.Node) float64 {
	switch node.HealthStatus {
	case depgraph.HealthHealthy:
		return 0.0
	case depgraph.HealthDegraded:
		return 0.3
	case depgraph.HealthUnhealthy:
		return 0.6
	case depgraph.HealthDown:
		return 1.0
	default:
		return 0.5
	}
}

// findAffectedServices is the transitive closure of dependents via DFS
// (spec §4.7).
func findAffectedServices(id depgraph.NodeId, g *depgraph.Graph) []depgraph.NodeId {
	visited := map[depgraph.NodeId]bool{}
	var affected []depgraph.NodeId
	stack := []depgraph.NodeId{id}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		affected = append(affected, cur)
		for _, dependent := range g.GetDependents(cur) {
			if !visited[dependent] {
				stack = append(stack, dependent)
			}
		}
	}
	return affected
}

func (a *Analysis) estimateDowntime(node depgraph.Node) time.Duration {
	d, ok := downtimeByType[node.Config.DependencyType]
	if !ok {
		d = 300 * time.Second
	}
	return d
}

func (a *Analysis) costImpact(node depgraph.Node, downtime time.Duration) float64 {
	a.mu.RLock()
	perHour, ok := a.costPerHour[node.Config.DependencyType]
	a.mu.RUnlock()
	if !ok {
		perHour = 1000
	}
	return perHour * downtime.Hours()
}

// History returns the recorded impact results for a dependency.
func (a *Analysis) History(id depgraph.NodeId) []Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Result(nil), a.history[id]...)
}
