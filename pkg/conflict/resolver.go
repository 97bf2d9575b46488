// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package conflict

import (
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/coordforge/pkg/coordination"
)

// Resolver is the Conflict Resolver (C9): detect, resolve, handler
// registry, statistics (spec §4.5, §6 ConflictResolver surface).
type Resolver struct {
	mu        sync.Mutex
	conflicts map[coordination.ConflictId]*Conflict
	history   []ConflictRecord
	handlers  map[string]Handler
	strategy  Strategy
	stats     Statistics
}

// NewResolver builds a Conflict Resolver with a default strategy (spec
// §6 conflict resolver config: {strategy, handler_map}).
func NewResolver(defaultStrategy Strategy) *Resolver {
	if defaultStrategy == "" {
		defaultStrategy = StrategyAutoMerge
	}
	return &Resolver{
		conflicts: make(map[coordination.ConflictId]*Conflict),
		handlers:  make(map[string]Handler),
		strategy:  defaultStrategy,
		stats: Statistics{
			CountsByType:     make(map[Type]int64),
			CountsByStrategy: make(map[Strategy]int64),
		},
	}
}

// Detect returns nil iff local == remote by deep structural equality;
// otherwise it constructs and stores a Medium-severity conflict (spec
// §4.5 detect_conflict).
func (r *Resolver) Detect(conflictType Type, local, remote any, metadata map[string]any) *Conflict {
	if deepEqual(local, remote) {
		return nil
	}
	c := &Conflict{
		ID:           coordination.NewConflictId(),
		ConflictType: conflictType,
		Severity:     SeverityMedium,
		LocalState:   local,
		RemoteState:  remote,
		CreatedAt:    coordination.Now(),
		Metadata:     metadata,
	}

	r.mu.Lock()
	r.conflicts[c.ID] = c
	r.stats.TotalDetected++
	r.stats.CountsByType[conflictType]++
	r.stats.LastUpdated = coordination.Now()
	r.mu.Unlock()

	return c
}

// RegisterHandler adds a named Custom(handler_name) implementation.
func (r *Resolver) RegisterHandler(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// UnregisterHandler removes a named handler.
func (r *Resolver) UnregisterHandler(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// Resolve dispatches attempt_resolution(conflict_id) on the resolver's
// configured strategy (spec §4.5). Resolving an already-resolved
// conflict is an error.
func (r *Resolver) Resolve(conflictID coordination.ConflictId) (ResolutionResult, error) {
	return r.resolveWithStrategy(conflictID, r.strategy)
}

// ResolveWithStrategy resolves a specific conflict using an explicit
// strategy override, used by callers (e.g. Git conflict resolution)
// that choose per-call rather than via the resolver's default.
func (r *Resolver) ResolveWithStrategy(conflictID coordination.ConflictId, strategy Strategy) (ResolutionResult, error) {
	return r.resolveWithStrategy(conflictID, strategy)
}

func (r *Resolver) resolveWithStrategy(conflictID coordination.ConflictId, strategy Strategy) (ResolutionResult, error) {
	r.mu.Lock()
	c, ok := r.conflicts[conflictID]
	r.mu.Unlock()
	if !ok {
		return ResolutionResult{}, fmt.Errorf("%w: conflict %s", coordination.ErrNotFound, conflictID)
	}
	if c.IsResolved() {
		return ResolutionResult{}, fmt.Errorf("%w: conflict %s", coordination.ErrAlreadyResolved, conflictID)
	}

	start := time.Now()
	result, err := r.dispatch(c, strategy)
	elapsed := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()

	success := err == nil && result.Success
	if err == nil {
		now := coordination.Now()
		c.ResolvedAt = &now
		stCopy := strategy
		c.ResolutionStrategy = &stCopy
		resCopy := result
		c.ResolutionResult = &resCopy
	}

	r.history = append(r.history, ConflictRecord{
		ConflictID:       conflictID,
		ConflictType:     c.ConflictType,
		Strategy:         strategy,
		Success:          success,
		ResolutionTimeMs: elapsed.Milliseconds(),
		ResolvedAt:       coordination.Now(),
	})

	r.stats.CountsByStrategy[strategy]++
	if success {
		r.stats.TotalResolved++
	} else {
		r.stats.TotalFailed++
	}
	n := r.stats.TotalResolved + r.stats.TotalFailed
	if n > 0 {
		r.stats.rollingAvgMs += (float64(elapsed.Milliseconds()) - r.stats.rollingAvgMs) / float64(n)
	}
	r.stats.LastUpdated = coordination.Now()

	return result, err
}

func (r *Resolver) dispatch(c *Conflict, strategy Strategy) (ResolutionResult, error) {
	switch {
	case strategy == StrategyAutoMerge:
		merged, err := mergeRightBiased(c.LocalState, c.RemoteState)
		if err != nil {
			return ResolutionResult{}, err
		}
		return ResolutionResult{Success: true, ResolvedState: merged, Message: "auto-merged"}, nil

	case strategy == StrategyKeepLocal:
		return ResolutionResult{Success: true, ResolvedState: c.LocalState, Message: "kept local"}, nil

	case strategy == StrategyKeepRemote:
		return ResolutionResult{Success: true, ResolvedState: c.RemoteState, Message: "kept remote"}, nil

	case strategy == StrategyLastWriterWins:
		localT := timestampFromMetadata(c.Metadata, "local_timestamp", c.CreatedAt)
		remoteT := timestampFromMetadata(c.Metadata, "remote_timestamp", c.CreatedAt)
		if !remoteT.After(localT) {
			return ResolutionResult{Success: true, ResolvedState: c.LocalState, Message: "local_timestamp wins"}, nil
		}
		return ResolutionResult{Success: true, ResolvedState: c.RemoteState, Message: "remote_timestamp wins"}, nil

	case strategy == StrategyManual:
		return ResolutionResult{}, fmt.Errorf("%w: %s", coordination.ErrManualResolutionRequired, c.ID)

	default:
		name, custom := stripCustomPrefix(string(strategy))
		if !custom {
			return ResolutionResult{}, fmt.Errorf("%w: unknown conflict strategy %q", coordination.ErrValidation, strategy)
		}
		r.mu.Lock()
		h, ok := r.handlers[name]
		r.mu.Unlock()
		if !ok {
			return ResolutionResult{}, fmt.Errorf("%w: %s", coordination.ErrHandlerNotFound, name)
		}
		return h.Resolve(c)
	}
}

func stripCustomPrefix(s string) (string, bool) {
	const prefix = "custom:"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

// GetStatistics returns a copy of the resolver's accumulated statistics.
// The success_rate of the snapshot is derived, not stored: call
// SuccessRate() on the returned copy, which computes
// resolved/(resolved+failed) from the copied counters.
func (r *Resolver) GetStatistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	byType := make(map[Type]int64, len(r.stats.CountsByType))
	for k, v := range r.stats.CountsByType {
		byType[k] = v
	}
	byStrategy := make(map[Strategy]int64, len(r.stats.CountsByStrategy))
	for k, v := range r.stats.CountsByStrategy {
		byStrategy[k] = v
	}
	return Statistics{
		TotalDetected:    r.stats.TotalDetected,
		TotalResolved:    r.stats.TotalResolved,
		TotalFailed:      r.stats.TotalFailed,
		CountsByType:     byType,
		CountsByStrategy: byStrategy,
		rollingAvgMs:     r.stats.rollingAvgMs,
		LastUpdated:      r.stats.LastUpdated,
	}
}

// History returns the append-only audit log of resolutions.
func (r *Resolver) History() []ConflictRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConflictRecord(nil), r.history...)
}

// Get looks up a conflict by ID, resolved or not.
func (r *Resolver) Get(id coordination.ConflictId) (*Conflict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[id]
	return c, ok
}
