// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

// Package validation implements the Validation Engine (C8, spec §4.3):
// pre-execution checks over capabilities, resources, dependencies, and
// constraints.
package validation

import (
	"context"
	"fmt"

	"github.com/kadirpekel/coordforge/pkg/pattern"
)

// Engine is the Validation Engine (C8). It satisfies pattern.Validator.
type Engine struct{}

// NewEngine builds a Validation Engine.
func NewEngine() *Engine { return &Engine{} }

// Validate runs every check in order, accumulating errors rather than
// short-circuiting (spec §4.3).
func (e *Engine) Validate(_ context.Context, md pattern.Metadata, pc *pattern.Context) (*pattern.ValidationResult, error) {
	result := &pattern.ValidationResult{
		IsValid: true,
		Details: make(map[string]any),
	}

	agents := pc.Agents.List()
	if len(agents) == 0 {
		result.Errors = append(result.Errors, "no agents available in context")
	}

	// 1. Capabilities.
	for _, c := range md.RequiredCapabilities {
		found := false
		for _, a := range agents {
			if a.HasCapability(c) {
				found = true
				break
			}
		}
		if !found {
			result.Errors = append(result.Errors, fmt.Sprintf("No agent found with capability: %s", c))
		}
	}

	// 2. Resources.
	for _, r := range md.RequiredResources {
		switch r {
		case "memory":
			if pc.Resources.Memory.Available == 0 {
				result.Errors = append(result.Errors, "insufficient memory: available_memory == 0")
			}
		case "cpu":
			if pc.Resources.CPU.AvailableCores == 0 {
				result.Errors = append(result.Errors, "insufficient cpu: available_cores == 0")
			}
		case "network":
			if pc.Resources.Network.AvailableBandwidth == 0 {
				result.Errors = append(result.Errors, "insufficient network: available_bandwidth == 0")
			}
		default:
			if _, ok := pc.Resources.Custom[r]; !ok {
				result.Errors = append(result.Errors, fmt.Sprintf("required custom resource missing: %s", r))
			}
		}
	}

	// 3. Dependencies: context data must contain dependency_{d}.
	for _, d := range md.Dependencies {
		key := fmt.Sprintf("dependency_%s", d)
		if _, ok := pc.Get(key); !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("unsatisfied dependency: %s", d))
		}
	}

	// 4. Constraints: hard constraints become errors, soft become warnings.
	for _, c := range md.Constraints {
		if c.Check == nil {
			continue
		}
		if !c.Check(pc) {
			if c.IsHard {
				result.Errors = append(result.Errors, fmt.Sprintf("constraint violated: %s", c.Name))
			} else {
				result.Warnings = append(result.Warnings, fmt.Sprintf("soft constraint not met: %s", c.Name))
			}
		}
	}

	result.Details["agent_count"] = len(agents)
	result.Details["required_capabilities"] = md.RequiredCapabilities
	result.Details["required_resources"] = md.RequiredResources

	result.IsValid = len(result.Errors) == 0
	return result, nil
}
