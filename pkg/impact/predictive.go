// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package impact

import (
	"fmt"
	"math"
	"sync"

	"github.com/kadirpekel/coordforge/pkg/config"
	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/kadirpekel/coordforge/pkg/depgraph"
)

// Model names the primitive prediction models combined into an ensemble.
type Model string

const (
	ModelMovingAverage        Model = "moving_average"
	ModelExponentialSmoothing Model = "exponential_smoothing"
	ModelAnomalyDetection     Model = "anomaly_detection"
)

// Prediction is the output of a single primitive model or the ensemble
// combination of all of them (spec §4.7).
type Prediction struct {
	Model       Model
	Metrics     depgraph.HealthMetrics
	HealthScore float64
	Confidence  float64
}

// AnomalySeverity grades how far outside normal bounds a metric fell.
type AnomalySeverity string

const (
	AnomalyHigh     AnomalySeverity = "high"
	AnomalyCritical AnomalySeverity = "critical"
)

// Anomaly records one out-of-bounds metric observation (spec §4.7).
type Anomaly struct {
	Metric          string
	Severity        AnomalySeverity
	Score           float64
	AffectedMetrics []string
}

// TrendDirection classifies the slope of a health-score regression.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// Trend is the result of analyze_trends: an OLS fit over recent health
// scores plus its directional classification (spec §4.7).
type Trend struct {
	Slope     float64
	Intercept float64
	RSquared  float64
	Direction TrendDirection
}

const (
	movingAverageWindow = 10
	anomalyMinHistory   = 10
	trendMinHistory     = 10

	responseTimeZThreshold = 2.0
	availabilityThreshold  = 0.95
	errorRateThreshold     = 0.05
)

// Predictive is the per-dependency predictive analytics engine: a
// bounded history ring plus the three primitive models and their
// ensemble combination (spec §4.7).
type Predictive struct {
	mu         sync.RWMutex
	minHistory int
	weights    map[Model]float64
	capacity   int
	history    map[depgraph.NodeId][]depgraph.HealthMetrics
}

// NewPredictive builds a predictive analytics engine from config,
// defaulting model weights to moving_average=0.3, exponential_smoothing=0.3,
// anomaly_detection=0.4 (spec §4.7, matching predictive.rs's model configs).
func NewPredictive(cfg config.PredictiveConfig) *Predictive {
	cfg.SetDefaults()
	weights := make(map[Model]float64, len(cfg.ModelWeights))
	for k, v := range cfg.ModelWeights {
		weights[Model(k)] = v
	}
	return &Predictive{
		minHistory: cfg.MinHistory,
		weights:    weights,
		capacity:   500,
		history:    make(map[depgraph.NodeId][]depgraph.HealthMetrics),
	}
}

// Record appends a health sample to the bounded ring for a dependency.
func (p *Predictive) Record(id depgraph.NodeId, m depgraph.HealthMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := append(p.history[id], m)
	if len(h) > p.capacity {
		h = h[len(h)-p.capacity:]
	}
	p.history[id] = h
}

func (p *Predictive) snapshot(id depgraph.NodeId) []depgraph.HealthMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]depgraph.HealthMetrics(nil), p.history[id]...)
}

// PredictHealth runs the moving-average, exponential-smoothing, and
// anomaly-detection models and combines them into a single weighted
// ensemble prediction. Requires at least minHistory points (spec §4.7,
// §8 boundary: fewer than 5 ⇒ InsufficientData).
func (p *Predictive) PredictHealth(id depgraph.NodeId) (Prediction, error) {
	h := p.snapshot(id)
	if len(h) < p.minHistory {
		return Prediction{}, fmt.Errorf("%w: need at least %d health samples, have %d", coordination.ErrInsufficientData, p.minHistory, len(h))
	}

	var predictions []Prediction
	predictions = append(predictions, movingAveragePrediction(h))
	predictions = append(predictions, exponentialSmoothingPrediction(h))
	if len(h) >= anomalyMinHistory {
		predictions = append(predictions, anomalyDetectionPrediction(h))
	}

	return p.ensemble(predictions), nil
}

func movingAveragePrediction(h []depgraph.HealthMetrics) Prediction {
	window := h
	if len(window) > movingAverageWindow {
		window = window[len(window)-movingAverageWindow:]
	}
	m := averageMetrics(window)
	return Prediction{Model: ModelMovingAverage, Metrics: m, HealthScore: m.Score(), Confidence: 0.7}
}

func exponentialSmoothingPrediction(h []depgraph.HealthMetrics) Prediction {
	const alpha = 0.3
	m := h[0]
	for _, next := range h[1:] {
		m = depgraph.HealthMetrics{
			ResponseTimeMs:   alpha*next.ResponseTimeMs + (1-alpha)*m.ResponseTimeMs,
			Availability:     alpha*next.Availability + (1-alpha)*m.Availability,
			ErrorRate:        alpha*next.ErrorRate + (1-alpha)*m.ErrorRate,
			Throughput:       alpha*next.Throughput + (1-alpha)*m.Throughput,
			CpuUsage:         alpha*next.CpuUsage + (1-alpha)*m.CpuUsage,
			MemoryUsage:      alpha*next.MemoryUsage + (1-alpha)*m.MemoryUsage,
			NetworkLatencyMs: alpha*next.NetworkLatencyMs + (1-alpha)*m.NetworkLatencyMs,
			DiskUsage:        alpha*next.DiskUsage + (1-alpha)*m.DiskUsage,
			Timestamp:        next.Timestamp,
		}
	}
	return Prediction{Model: ModelExponentialSmoothing, Metrics: m, HealthScore: m.Score(), Confidence: 0.8}
}

func anomalyDetectionPrediction(h []depgraph.HealthMetrics) Prediction {
	anomalies := detectAnomalies(h)
	m := averageMetrics(h)
	confidence := 0.6
	if len(anomalies) > 0 {
		confidence = 0.9
	}
	return Prediction{Model: ModelAnomalyDetection, Metrics: m, HealthScore: m.Score(), Confidence: confidence}
}

func averageMetrics(h []depgraph.HealthMetrics) depgraph.HealthMetrics {
	var m depgraph.HealthMetrics
	n := float64(len(h))
	for _, s := range h {
		m.ResponseTimeMs += s.ResponseTimeMs
		m.Availability += s.Availability
		m.ErrorRate += s.ErrorRate
		m.Throughput += s.Throughput
		m.CpuUsage += s.CpuUsage
		m.MemoryUsage += s.MemoryUsage
		m.NetworkLatencyMs += s.NetworkLatencyMs
		m.DiskUsage += s.DiskUsage
	}
	m.ResponseTimeMs /= n
	m.Availability /= n
	m.ErrorRate /= n
	m.Throughput /= n
	m.CpuUsage /= n
	m.MemoryUsage /= n
	m.NetworkLatencyMs /= n
	m.DiskUsage /= n
	m.Timestamp = h[len(h)-1].Timestamp
	return m
}

// ensemble combines per-model predictions by weighted average of
// health score and every metric field, weights normalized over the
// models actually present (spec §4.7, §8 property 7: weights sum to 1,
// every metric lies within [min,max] of contributing outputs).
func (p *Predictive) ensemble(predictions []Prediction) Prediction {
	p.mu.RLock()
	weights := make(map[Model]float64, len(p.weights))
	for k, v := range p.weights {
		weights[k] = v
	}
	p.mu.RUnlock()

	var totalWeight float64
	for _, pred := range predictions {
		totalWeight += weights[pred.Model]
	}
	if totalWeight == 0 {
		totalWeight = float64(len(predictions))
		for _, pred := range predictions {
			weights[pred.Model] = 1
		}
	}

	var out depgraph.HealthMetrics
	var score, confidence float64
	for _, pred := range predictions {
		w := weights[pred.Model] / totalWeight
		out.ResponseTimeMs += w * pred.Metrics.ResponseTimeMs
		out.Availability += w * pred.Metrics.Availability
		out.ErrorRate += w * pred.Metrics.ErrorRate
		out.Throughput += w * pred.Metrics.Throughput
		out.CpuUsage += w * pred.Metrics.CpuUsage
		out.MemoryUsage += w * pred.Metrics.MemoryUsage
		out.NetworkLatencyMs += w * pred.Metrics.NetworkLatencyMs
		out.DiskUsage += w * pred.Metrics.DiskUsage
		score += w * pred.HealthScore
		confidence += w * pred.Confidence
	}
	out.Timestamp = predictions[len(predictions)-1].Metrics.Timestamp

	return Prediction{Model: "ensemble", Metrics: out, HealthScore: score, Confidence: confidence}
}

// DetectAnomalies runs z-score based anomaly checks against the full
// recorded history for a dependency (spec §4.7).
func (p *Predictive) DetectAnomalies(id depgraph.NodeId) []Anomaly {
	return detectAnomalies(p.snapshot(id))
}

func detectAnomalies(h []depgraph.HealthMetrics) []Anomaly {
	if len(h) < 2 {
		return nil
	}
	var anomalies []Anomaly

	responseTimes := make([]float64, len(h))
	for i, s := range h {
		responseTimes[i] = s.ResponseTimeMs
	}
	mean, stddev := meanStdDev(responseTimes)
	latest := h[len(h)-1]
	if stddev > 0 {
		z := math.Abs((latest.ResponseTimeMs - mean) / stddev)
		if z > responseTimeZThreshold {
			severity := AnomalyHigh
			if z > 3 {
				severity = AnomalyCritical
			}
			anomalies = append(anomalies, Anomaly{
				Metric:          "response_time_ms",
				Severity:        severity,
				Score:           z,
				AffectedMetrics: []string{"response_time_ms"},
			})
		}
	}

	if latest.Availability < availabilityThreshold {
		severity := AnomalyHigh
		if latest.Availability < 0.8 {
			severity = AnomalyCritical
		}
		anomalies = append(anomalies, Anomaly{
			Metric:          "availability",
			Severity:        severity,
			Score:           availabilityThreshold - latest.Availability,
			AffectedMetrics: []string{"availability"},
		})
	}

	if latest.ErrorRate > errorRateThreshold {
		severity := AnomalyHigh
		if latest.ErrorRate > 0.1 {
			severity = AnomalyCritical
		}
		anomalies = append(anomalies, Anomaly{
			Metric:          "error_rate",
			Severity:        severity,
			Score:           latest.ErrorRate - errorRateThreshold,
			AffectedMetrics: []string{"error_rate"},
		})
	}

	return anomalies
}

func meanStdDev(vals []float64) (mean, stddev float64) {
	n := float64(len(vals))
	if n == 0 {
		return 0, 0
	}
	for _, v := range vals {
		mean += v
	}
	mean /= n
	if n < 2 {
		return mean, 0
	}
	var sumSq float64
	for _, v := range vals {
		d := v - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / (n - 1))
}

// AnalyzeTrend fits a linear regression over the last N health scores
// and classifies the direction by slope threshold ±0.01 (spec §4.7).
func (p *Predictive) AnalyzeTrend(id depgraph.NodeId) (Trend, error) {
	h := p.snapshot(id)
	if len(h) < trendMinHistory {
		return Trend{}, fmt.Errorf("%w: need at least %d health samples, have %d", coordination.ErrInsufficientData, trendMinHistory, len(h))
	}

	scores := make([]float64, len(h))
	for i, s := range h {
		scores[i] = s.Score()
	}

	slope, intercept, rSquared := linearRegression(scores)
	direction := TrendStable
	switch {
	case slope > 0.01:
		direction = TrendImproving
	case slope < -0.01:
		direction = TrendDeclining
	}

	return Trend{Slope: slope, Intercept: intercept, RSquared: rSquared, Direction: direction}, nil
}

// linearRegression fits y = slope*x + intercept via ordinary least
// squares over x = 0..n-1, returning R² as well.
func linearRegression(y []float64) (slope, intercept, rSquared float64) {
	n := float64(len(y))
	var sumX, sumY, sumXY, sumX2 float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, sumY / n, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i, v := range y {
		x := float64(i)
		pred := slope*x + intercept
		ssRes += (v - pred) * (v - pred)
		ssTot += (v - meanY) * (v - meanY)
	}
	if ssTot == 0 {
		return slope, intercept, 1
	}
	return slope, intercept, 1 - ssRes/ssTot
}
