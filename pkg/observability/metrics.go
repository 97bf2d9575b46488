// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the coordination
// engine: the Pattern Executor, Checkpoint & Recovery, Conflict
// Resolver, Dependency Graph, and admission control (spec §2 C13).
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	// Pattern execution metrics
	patternExecutions *prometheus.CounterVec
	patternDuration   *prometheus.HistogramVec
	patternErrors     *prometheus.CounterVec
	patternActive     *prometheus.GaugeVec

	// Checkpoint & recovery metrics
	checkpointsCreated  *prometheus.CounterVec
	checkpointsRestored *prometheus.CounterVec
	recoveryAttempts    *prometheus.CounterVec
	recoveryDuration    *prometheus.HistogramVec

	// Conflict resolver metrics
	conflictsDetected *prometheus.CounterVec
	conflictsResolved *prometheus.CounterVec
	conflictsFailed   *prometheus.CounterVec

	// Dependency graph metrics
	graphNodes          *prometheus.GaugeVec
	graphEdges          *prometheus.GaugeVec
	graphCyclesRejected *prometheus.CounterVec

	// Admission control metrics
	admissionDenied *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance from configuration.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.initPatternMetrics()
	m.initCheckpointMetrics()
	m.initConflictMetrics()
	m.initGraphMetrics()
	m.initAdmissionMetrics()

	return m, nil
}

func (m *Metrics) initPatternMetrics() {
	m.patternExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "pattern",
			Name:      "executions_total",
			Help:      "Total number of pattern executions",
		},
		[]string{"pattern_id", "pattern_type"},
	)

	m.patternDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "pattern",
			Name:      "execution_duration_seconds",
			Help:      "Pattern execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to 163s
		},
		[]string{"pattern_id", "pattern_type"},
	)

	m.patternErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "pattern",
			Name:      "errors_total",
			Help:      "Total number of pattern execution errors",
		},
		[]string{"pattern_id", "error_type"},
	)

	m.patternActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "pattern",
			Name:      "active_executions",
			Help:      "Number of currently executing patterns",
		},
		[]string{"pattern_id"},
	)

	m.registry.MustRegister(m.patternExecutions, m.patternDuration, m.patternErrors, m.patternActive)
}

func (m *Metrics) initCheckpointMetrics() {
	m.checkpointsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "created_total",
			Help:      "Total number of checkpoints created",
		},
		[]string{"pattern_id"},
	)

	m.checkpointsRestored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "restored_total",
			Help:      "Total number of checkpoints restored",
		},
		[]string{"pattern_id"},
	)

	m.recoveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "recovery",
			Name:      "attempts_total",
			Help:      "Total number of recovery strategy attempts",
		},
		[]string{"strategy", "outcome"},
	)

	m.recoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "recovery",
			Name:      "duration_seconds",
			Help:      "Recovery strategy duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"strategy"},
	)

	m.registry.MustRegister(m.checkpointsCreated, m.checkpointsRestored, m.recoveryAttempts, m.recoveryDuration)
}

func (m *Metrics) initConflictMetrics() {
	m.conflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "conflict",
			Name:      "detected_total",
			Help:      "Total number of conflicts detected",
		},
		[]string{"conflict_type"},
	)

	m.conflictsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "conflict",
			Name:      "resolved_total",
			Help:      "Total number of conflicts resolved",
		},
		[]string{"conflict_type", "strategy"},
	)

	m.conflictsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "conflict",
			Name:      "failed_total",
			Help:      "Total number of conflicts that could not be resolved automatically",
		},
		[]string{"conflict_type"},
	)

	m.registry.MustRegister(m.conflictsDetected, m.conflictsResolved, m.conflictsFailed)
}

func (m *Metrics) initGraphMetrics() {
	m.graphNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "depgraph",
			Name:      "nodes",
			Help:      "Number of nodes in the dependency graph",
		},
		[]string{},
	)

	m.graphEdges = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "depgraph",
			Name:      "edges",
			Help:      "Number of edges in the dependency graph",
		},
		[]string{},
	)

	m.graphCyclesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "depgraph",
			Name:      "cycles_rejected_total",
			Help:      "Total number of edge additions rejected for introducing a cycle",
		},
		[]string{},
	)

	m.registry.MustRegister(m.graphNodes, m.graphEdges, m.graphCyclesRejected)
}

func (m *Metrics) initAdmissionMetrics() {
	m.admissionDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "admission",
			Name:      "denied_total",
			Help:      "Total number of pattern executions denied by admission control",
		},
		[]string{"pattern_id"},
	)

	m.registry.MustRegister(m.admissionDenied)
}

// =============================================================================
// Pattern Metrics
// =============================================================================

// RecordPatternExecution records a completed pattern execution.
func (m *Metrics) RecordPatternExecution(patternID, patternType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.patternExecutions.WithLabelValues(patternID, patternType).Inc()
	m.patternDuration.WithLabelValues(patternID, patternType).Observe(duration.Seconds())
}

// RecordPatternError records a pattern execution error.
func (m *Metrics) RecordPatternError(patternID, errorType string) {
	if m == nil {
		return
	}
	m.patternErrors.WithLabelValues(patternID, errorType).Inc()
}

// IncPatternActive increments the active-execution gauge for a pattern.
func (m *Metrics) IncPatternActive(patternID string) {
	if m == nil {
		return
	}
	m.patternActive.WithLabelValues(patternID).Inc()
}

// DecPatternActive decrements the active-execution gauge for a pattern.
func (m *Metrics) DecPatternActive(patternID string) {
	if m == nil {
		return
	}
	m.patternActive.WithLabelValues(patternID).Dec()
}

// =============================================================================
// Checkpoint & Recovery Metrics
// =============================================================================

// RecordCheckpointCreated records a checkpoint being written.
func (m *Metrics) RecordCheckpointCreated(patternID string) {
	if m == nil {
		return
	}
	m.checkpointsCreated.WithLabelValues(patternID).Inc()
}

// RecordCheckpointRestored records a checkpoint being restored.
func (m *Metrics) RecordCheckpointRestored(patternID string) {
	if m == nil {
		return
	}
	m.checkpointsRestored.WithLabelValues(patternID).Inc()
}

// RecordRecoveryAttempt records an Enhanced Recovery Strategy attempt.
func (m *Metrics) RecordRecoveryAttempt(strategy, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.recoveryAttempts.WithLabelValues(strategy, outcome).Inc()
	m.recoveryDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// =============================================================================
// Conflict Metrics
// =============================================================================

// RecordConflictDetected records a conflict detection.
func (m *Metrics) RecordConflictDetected(conflictType string) {
	if m == nil {
		return
	}
	m.conflictsDetected.WithLabelValues(conflictType).Inc()
}

// RecordConflictResolved records a successful conflict resolution.
func (m *Metrics) RecordConflictResolved(conflictType, strategy string) {
	if m == nil {
		return
	}
	m.conflictsResolved.WithLabelValues(conflictType, strategy).Inc()
}

// RecordConflictFailed records a conflict that needs manual resolution.
func (m *Metrics) RecordConflictFailed(conflictType string) {
	if m == nil {
		return
	}
	m.conflictsFailed.WithLabelValues(conflictType).Inc()
}

// =============================================================================
// Dependency Graph Metrics
// =============================================================================

// SetGraphSize sets the current node/edge counts for the dependency graph.
func (m *Metrics) SetGraphSize(nodes, edges int) {
	if m == nil {
		return
	}
	m.graphNodes.WithLabelValues().Set(float64(nodes))
	m.graphEdges.WithLabelValues().Set(float64(edges))
}

// RecordCycleRejected records an edge addition rejected for introducing a cycle.
func (m *Metrics) RecordCycleRejected() {
	if m == nil {
		return
	}
	m.graphCyclesRejected.WithLabelValues().Inc()
}

// =============================================================================
// Admission Control Metrics
// =============================================================================

// RecordAdmissionDenied records a pattern execution denied by admission control.
func (m *Metrics) RecordAdmissionDenied(patternID string) {
	if m == nil {
		return
	}
	m.admissionDenied.WithLabelValues(patternID).Inc()
}

// =============================================================================
// HTTP Handler
// =============================================================================

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
