// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

// Package config loads and validates the coordination engine's tunables:
// pattern execution defaults, recovery strategy parameters, conflict
// resolution policy, and dependency-impact weighting. It does not parse
// agent-facing surfaces (CLI flags, transport wiring) — only the engine's
// own knobs.
package config

import "fmt"

// Config is the root configuration bag for a coordination engine instance.
type Config struct {
	Logger     LoggerConfig     `yaml:"logger,omitempty"`
	Database   DatabaseConfig   `yaml:"database,omitempty"`
	RateLimit  RateLimitConfig  `yaml:"rate_limiting,omitempty"`
	Pattern    PatternConfig    `yaml:"pattern,omitempty"`
	Recovery   RecoveryConfig   `yaml:"recovery,omitempty"`
	Conflict   ConflictConfig   `yaml:"conflict,omitempty"`
	Impact     ImpactConfig     `yaml:"impact,omitempty"`
	Predictive PredictiveConfig `yaml:"predictive,omitempty"`
	Checkpoint CheckpointConfig `yaml:"checkpoint,omitempty"`
}

// PatternConfig controls a single pattern execution (§6, Pattern config).
type PatternConfig struct {
	TimeoutSeconds   int            `yaml:"timeout_seconds,omitempty"`
	MaxRetries       int            `yaml:"max_retries,omitempty"`
	EnableRollback   bool           `yaml:"enable_rollback,omitempty"`
	EnableMonitoring bool           `yaml:"enable_monitoring,omitempty"`
	Custom           map[string]any `yaml:"custom,omitempty"`
}

// SetDefaults applies the executor's defaults (30s timeout, no retries).
func (c *PatternConfig) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

// Validate checks the pattern configuration.
func (c *PatternConfig) Validate() error {
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("pattern.timeout_seconds must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("pattern.max_retries must be non-negative")
	}
	return nil
}

// RecoveryConfig holds defaults for the enhanced recovery strategies (§4.4).
type RecoveryConfig struct {
	IntelligentRetry struct {
		MaxAttempts             int     `yaml:"max_attempts,omitempty"`
		InitialBackoffMs        int64   `yaml:"initial_backoff_ms,omitempty"`
		MaxBackoffMs            int64   `yaml:"max_backoff_ms,omitempty"`
		BackoffMultiplier       float64 `yaml:"backoff_multiplier,omitempty"`
		CircuitBreakerThreshold uint32  `yaml:"circuit_breaker_threshold,omitempty"`
		CircuitBreakerTimeoutMs int64   `yaml:"circuit_breaker_timeout_ms,omitempty"`
	} `yaml:"intelligent_retry,omitempty"`
}

// SetDefaults fills in the recovery defaults grounded in the original spec.
func (c *RecoveryConfig) SetDefaults() {
	ir := &c.IntelligentRetry
	if ir.MaxAttempts == 0 {
		ir.MaxAttempts = 3
	}
	if ir.InitialBackoffMs == 0 {
		ir.InitialBackoffMs = 100
	}
	if ir.MaxBackoffMs == 0 {
		ir.MaxBackoffMs = 5000
	}
	if ir.BackoffMultiplier == 0 {
		ir.BackoffMultiplier = 2.0
	}
	if ir.CircuitBreakerTimeoutMs == 0 {
		ir.CircuitBreakerTimeoutMs = 5000
	}
}

// ConflictConfig configures the conflict resolver (§6: strategy + handler_map).
type ConflictConfig struct {
	Strategy string `yaml:"strategy,omitempty"`
}

// SetDefaults defaults the strategy to AutoMerge.
func (c *ConflictConfig) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = "auto_merge"
	}
}

// ImpactConfig carries the weighting tables for business-impact analysis (§4.7).
type ImpactConfig struct {
	BusinessMetricsWeights map[string]float64 `yaml:"business_metrics_weights,omitempty"`
	RiskFactorWeights      map[string]float64 `yaml:"risk_factor_weights,omitempty"`
	DowntimeCostsPerHour   map[string]float64 `yaml:"downtime_costs_per_hour,omitempty"`
}

// Validate checks that each weight group sums to 1 within tolerance.
func (c *ImpactConfig) Validate() error {
	if err := validateWeightSum("impact.business_metrics_weights", c.BusinessMetricsWeights); err != nil {
		return err
	}
	if err := validateWeightSum("impact.risk_factor_weights", c.RiskFactorWeights); err != nil {
		return err
	}
	return nil
}

func validateWeightSum(name string, weights map[string]float64) error {
	if len(weights) == 0 {
		return nil
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	const tolerance = 1e-9
	if sum < 1-tolerance || sum > 1+tolerance {
		return fmt.Errorf("%s must sum to 1.0, got %f", name, sum)
	}
	return nil
}

// PredictiveConfig configures the ensemble prediction models (§4.7).
type PredictiveConfig struct {
	ModelWeights map[string]float64 `yaml:"model_weights,omitempty"`
	MinHistory   int                `yaml:"min_history,omitempty"`
}

// SetDefaults applies the ensemble defaults (moving avg 0.3, exp smoothing 0.3, anomaly 0.4).
func (c *PredictiveConfig) SetDefaults() {
	if c.MinHistory == 0 {
		c.MinHistory = 5
	}
	if len(c.ModelWeights) == 0 {
		c.ModelWeights = map[string]float64{
			"moving_average":        0.3,
			"exponential_smoothing": 0.3,
			"anomaly_detection":     0.4,
		}
	}
}

// Validate checks the predictive configuration.
func (c *PredictiveConfig) Validate() error {
	return validateWeightSum("predictive.model_weights", c.ModelWeights)
}

// CheckpointConfig controls checkpoint retention (§4.4).
type CheckpointConfig struct {
	MaxAgeHours int `yaml:"max_age_hours,omitempty"`
	MaxCount    int `yaml:"max_count,omitempty"`
}

// SetDefaults applies retention defaults.
func (c *CheckpointConfig) SetDefaults() {
	if c.MaxAgeHours == 0 {
		c.MaxAgeHours = 24
	}
	if c.MaxCount == 0 {
		c.MaxCount = 1000
	}
}

// SetDefaults cascades defaults across every section of Config. The
// database section is optional; its defaults only apply once a driver
// is named.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	if c.Database.Driver != "" {
		c.Database.SetDefaults()
	}
	c.RateLimit.SetDefaults()
	c.Pattern.SetDefaults()
	c.Recovery.SetDefaults()
	c.Conflict.SetDefaults()
	c.Predictive.SetDefaults()
	c.Checkpoint.SetDefaults()
}

// Validate checks every section of Config.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if c.Database.Driver != "" {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limiting: %w", err)
	}
	if c.RateLimit.IsEnabled() && c.RateLimit.Backend == "sql" && c.Database.Driver == "" {
		return fmt.Errorf("rate_limiting: backend 'sql' requires a database section")
	}
	if err := c.Pattern.Validate(); err != nil {
		return err
	}
	if err := c.Impact.Validate(); err != nil {
		return err
	}
	if err := c.Predictive.Validate(); err != nil {
		return err
	}
	return nil
}

// BoolPtr returns a pointer to b, for optional boolean config fields.
func BoolPtr(b bool) *bool {
	return &b
}
