// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package coordination

import (
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/coordforge/pkg/registry"
)

// Health is the discrete classification of an agent or dependency (spec §3, §GLOSSARY).
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthOffline   Health = "offline"
)

// IsAvailable matches spec §3's `health.is_available` predicate: only
// Healthy and Degraded agents can be handed new work.
func (h Health) IsAvailable() bool {
	return h == HealthHealthy || h == HealthDegraded
}

// score contributes to Agent.Score's 0.4 weight (spec §3).
func (h Health) score() float64 {
	switch h {
	case HealthHealthy:
		return 1.0
	case HealthDegraded:
		return 0.5
	case HealthUnhealthy:
		return 0.1
	default:
		return 0.0
	}
}

// Status is an agent's current task-acceptance state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusBusy     Status = "busy"
	StatusError    Status = "error"
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusStopping Status = "stopping"
)

// CanAcceptTasks matches spec §3's `status.can_accept_tasks` predicate.
func (s Status) CanAcceptTasks() bool {
	return s == StatusIdle || s == StatusBusy
}

// Metrics tracks task throughput and resource usage for an agent.
type Metrics struct {
	TasksCompleted  int64
	TasksFailed     int64
	AverageTaskTime time.Duration
	TasksRunning    int
	CPUSnapshot     float64
	MemorySnapshot  float64
}

// Agent is the record an AgentId maps to (spec §3 Agent).
type Agent struct {
	mu sync.RWMutex

	ID            AgentId
	Name          string
	Type          string
	Version       string
	Capabilities  map[string]struct{}
	Health        Health
	Status        Status
	Priority      uint8
	CurrentTask   *TaskId
	Metrics       Metrics
	LastHeartbeat *time.Time
	Metadata      map[string]any
}

// NewAgent constructs an Agent, validating the required non-empty fields.
func NewAgent(id AgentId, name, typ, version string) (*Agent, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: agent id is empty", ErrValidation)
	}
	if name == "" || typ == "" || version == "" {
		return nil, fmt.Errorf("%w: agent name/type/version must be non-empty", ErrValidation)
	}
	return &Agent{
		ID:           id,
		Name:         name,
		Type:         typ,
		Version:      version,
		Capabilities: make(map[string]struct{}),
		Health:       HealthHealthy,
		Status:       StatusIdle,
		Metadata:     make(map[string]any),
	}, nil
}

// HasCapability reports whether the agent advertises c.
func (a *Agent) HasCapability(c string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.Capabilities[c]
	return ok
}

// AddCapability advertises a new capability tag.
func (a *Agent) AddCapability(c string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Capabilities[c] = struct{}{}
}

// IsAvailable implements spec §3: `is_available = health.is_available ∧ status.can_accept_tasks`.
func (a *Agent) IsAvailable() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Health.IsAvailable() && a.Status.CanAcceptTasks()
}

// Stale reports whether the agent's last heartbeat predates now by more
// than delta, or is missing entirely (spec §3).
func (a *Agent) Stale(delta time.Duration, now time.Time) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.LastHeartbeat == nil {
		return true
	}
	return now.Sub(*a.LastHeartbeat) > delta
}

// Heartbeat records a heartbeat under the agent's own lock (spec §5:
// "heartbeat and metric updates take a per-agent lock").
func (a *Agent) Heartbeat(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := at
	a.LastHeartbeat = &t
}

// Score implements spec §3: score = 0.4*health_score + 0.3*priority + 0.3*load_score,
// where load_score = 100 / (tasks_running + 1).
func (a *Agent) Score() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	loadScore := 100.0 / float64(a.Metrics.TasksRunning+1)
	priorityScore := float64(a.Priority)
	return 0.4*a.Health.score() + 0.3*priorityScore + 0.3*loadScore
}

// Snapshot returns a copy of the agent's mutable state, used for
// copy-on-read Agent Registry access (spec §5) and for checkpointing.
type Snapshot struct {
	ID            AgentId
	Name          string
	Type          string
	Version       string
	Capabilities  []string
	Health        Health
	Status        Status
	Priority      uint8
	CurrentTask   *TaskId
	Metrics       Metrics
	LastHeartbeat *time.Time
	Metadata      map[string]any
}

// Snapshot takes a consistent point-in-time copy under the agent's lock.
func (a *Agent) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	caps := make([]string, 0, len(a.Capabilities))
	for c := range a.Capabilities {
		caps = append(caps, c)
	}
	meta := make(map[string]any, len(a.Metadata))
	for k, v := range a.Metadata {
		meta[k] = v
	}
	return Snapshot{
		ID:            a.ID,
		Name:          a.Name,
		Type:          a.Type,
		Version:       a.Version,
		Capabilities:  caps,
		Health:        a.Health,
		Status:        a.Status,
		Priority:      a.Priority,
		CurrentTask:   a.CurrentTask,
		Metrics:       a.Metrics,
		LastHeartbeat: a.LastHeartbeat,
		Metadata:      meta,
	}
}

// Restore overwrites mutable fields from a snapshot, used by the
// checkpoint store's restore path (spec §4.4: "overwrites mutable
// fields on agents present in both context and snapshot").
func (a *Agent) Restore(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Health = s.Health
	a.Status = s.Status
	a.CurrentTask = s.CurrentTask
	a.Metrics = s.Metrics
	a.LastHeartbeat = s.LastHeartbeat
}

// AgentRegistry is the Agent Registry (C3): a map of AgentId to Agent
// state, built on the teacher's generic BaseRegistry.
type AgentRegistry struct {
	base *registry.BaseRegistry[*Agent]
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{base: registry.NewBaseRegistry[*Agent]()}
}

func (r *AgentRegistry) Register(a *Agent) error {
	return r.base.Register(string(a.ID), a)
}

func (r *AgentRegistry) Get(id AgentId) (*Agent, bool) {
	return r.base.Get(string(id))
}

func (r *AgentRegistry) List() []*Agent {
	return r.base.List()
}

func (r *AgentRegistry) Deregister(id AgentId) error {
	return r.base.Remove(string(id))
}

func (r *AgentRegistry) Count() int {
	return r.base.Count()
}

// WithCapability returns every registered agent advertising c.
func (r *AgentRegistry) WithCapability(c string) []*Agent {
	out := make([]*Agent, 0)
	for _, a := range r.base.List() {
		if a.HasCapability(c) {
			out = append(out, a)
		}
	}
	return out
}

// EvictStale deregisters every agent stale beyond delta (spec §3
// lifecycle: "Explicit deregistration or stale timeout + eviction").
func (r *AgentRegistry) EvictStale(delta time.Duration, now time.Time) []AgentId {
	evicted := make([]AgentId, 0)
	for _, a := range r.base.List() {
		if a.Stale(delta, now) {
			_ = r.base.Remove(string(a.ID))
			evicted = append(evicted, a.ID)
		}
	}
	return evicted
}
