// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package pattern

import (
	"sync"

	"github.com/kadirpekel/coordforge/pkg/coordination"
)

// ExecConfig holds the per-execution tunables exposed to callers (spec
// §6 Pattern config).
type ExecConfig struct {
	TimeoutSeconds   int
	MaxRetries       int
	EnableRollback   bool
	EnableMonitoring bool
	Custom           map[string]any
}

// Context is the Pattern Context (C5): a snapshot of agents, resources,
// constraints and config bound to a single execution, plus a free-form
// data store validation/execution can read and write (spec §3
// PatternState.data, §4.2).
type Context struct {
	mu sync.RWMutex

	Agents      *coordination.AgentRegistry
	Resources   *coordination.ResourcePool
	Constraints []Constraint
	Config      ExecConfig
	data        map[string]any
	boundState  *State
}

// BindState associates the live PatternState with this context so that
// the Checkpoint & Recovery component can read it through the narrow
// CheckpointStore interface without importing the executor.
func (c *Context) BindState(s *State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundState = s
}

// BoundState returns a snapshot of the PatternState bound via
// BindState, if any.
func (c *Context) BoundState() (StateSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.boundState == nil {
		return StateSnapshot{}, false
	}
	return c.boundState.Snapshot(), true
}

// RestoreBoundState overwrites the bound PatternState's restorable
// fields from a checkpointed snapshot. No-op when no state is bound.
func (c *Context) RestoreBoundState(snap StateSnapshot) {
	c.mu.RLock()
	bound := c.boundState
	c.mu.RUnlock()
	if bound != nil {
		bound.RestoreSnapshot(snap)
	}
}

// NewContext builds a Context bound to the given agents and resources.
func NewContext(agents *coordination.AgentRegistry, resources *coordination.ResourcePool, cfg ExecConfig) *Context {
	return &Context{
		Agents:    agents,
		Resources: resources,
		Config:    cfg,
		data:      make(map[string]any),
	}
}

// Set stores a value in the context's data bag.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Get retrieves a value from the context's data bag.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Data returns a shallow copy of the context's data bag.
func (c *Context) Data() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Clone takes an entry-time copy of the context (Open Question #1 in
// DESIGN.md: one snapshot at execute() entry, not per-phase). Agents and
// Resources are copied by reference registries whose own internals are
// already lock-guarded; the data bag is copied into a new map (values are
// shared, not deep-copied) so pattern bodies cannot observe each other's
// Set calls across concurrent executions.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data := make(map[string]any, len(c.data))
	for k, v := range c.data {
		data[k] = v
	}
	return &Context{
		Agents:      c.Agents,
		Resources:   c.Resources,
		Constraints: append([]Constraint(nil), c.Constraints...),
		Config:      c.Config,
		data:        data,
	}
}
