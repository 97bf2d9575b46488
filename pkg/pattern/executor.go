// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package pattern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/kadirpekel/coordforge/pkg/ratelimit"
)

// Validator is the narrow capability the Validation Engine (C8)
// satisfies; the executor depends on this interface, not on the
// concrete validation package, to avoid an import cycle.
type Validator interface {
	Validate(ctx context.Context, md Metadata, pc *Context) (*ValidationResult, error)
}

// CheckpointStore is the narrow capability the Checkpoint & Recovery
// component (C7) satisfies.
type CheckpointStore interface {
	Create(ctx context.Context, patternID coordination.PatternId, pc *Context, metadata map[string]any) (coordination.CheckpointId, error)
	RestoreLatest(ctx context.Context, patternID coordination.PatternId, pc *Context) (coordination.CheckpointId, bool, error)
}

// Monitor is the narrow capability the observability Metrics satisfy;
// recording only happens when the execution's config enables monitoring.
type Monitor interface {
	RecordPatternExecution(patternID, patternType string, duration time.Duration)
	RecordPatternError(patternID, errorType string)
	IncPatternActive(patternID string)
	DecPatternActive(patternID string)
}

// ExecutionStatistics accumulates executor-wide counters (C13
// cross-cutting statistics aggregator).
type ExecutionStatistics struct {
	mu sync.Mutex

	TotalExecuted    int64
	TotalSucceeded   int64
	TotalFailed      int64
	TotalCancelled   int64
	TotalRetries     int64
	RollbacksRun     int64
	RollbackErrors   int64
	ValidationErrors int64
}

// StatisticsSnapshot is a copyable, lock-free view of ExecutionStatistics.
type StatisticsSnapshot struct {
	TotalExecuted    int64
	TotalSucceeded   int64
	TotalFailed      int64
	TotalCancelled   int64
	TotalRetries     int64
	RollbacksRun     int64
	RollbackErrors   int64
	ValidationErrors int64
}

func (s *ExecutionStatistics) recordStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalExecuted++
}

func (s *ExecutionStatistics) recordOutcome(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch phase {
	case PhaseCompleted:
		s.TotalSucceeded++
	case PhaseFailed:
		s.TotalFailed++
	case PhaseCancelled:
		s.TotalCancelled++
	}
}

// Snapshot returns a lock-free copy of the current statistics.
func (s *ExecutionStatistics) Snapshot() StatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatisticsSnapshot{
		TotalExecuted:    s.TotalExecuted,
		TotalSucceeded:   s.TotalSucceeded,
		TotalFailed:      s.TotalFailed,
		TotalCancelled:   s.TotalCancelled,
		TotalRetries:     s.TotalRetries,
		RollbacksRun:     s.RollbacksRun,
		RollbackErrors:   s.RollbackErrors,
		ValidationErrors: s.ValidationErrors,
	}
}

type activeExecution struct {
	state  *State
	cancel context.CancelFunc
}

// Executor is the Pattern Executor (C6), the hardest component: it
// drives execute_pattern through the phase state machine with timeout,
// retry, and rollback (spec §4.2).
type Executor struct {
	registry    *Registry
	validator   Validator
	checkpoints CheckpointStore
	stats       *ExecutionStatistics
	admission   *ratelimit.AdmissionController
	monitor     Monitor

	mu     sync.RWMutex
	active map[coordination.PatternId]*activeExecution
}

// NewExecutor wires a Pattern Executor against a registry, validator,
// and checkpoint store.
func NewExecutor(reg *Registry, validator Validator, checkpoints CheckpointStore) *Executor {
	return &Executor{
		registry:    reg,
		validator:   validator,
		checkpoints: checkpoints,
		stats:       &ExecutionStatistics{},
		active:      make(map[coordination.PatternId]*activeExecution),
	}
}

// WithAdmissionController attaches backpressure admission control (spec
// §5 "A bounded work queue per component; saturation returns
// ResourceExhausted rather than unbounded growth"). Every Execute call
// is gated through it before the pattern is looked up.
func (e *Executor) WithAdmissionController(admission *ratelimit.AdmissionController) *Executor {
	e.admission = admission
	return e
}

// WithMonitor attaches a metrics recorder, consulted only for executions
// whose config has EnableMonitoring set.
func (e *Executor) WithMonitor(m Monitor) *Executor {
	e.monitor = m
	return e
}

// Execute runs execute_pattern(pattern_id, context) to completion (spec
// §4.2 algorithm).
func (e *Executor) Execute(ctx context.Context, patternID coordination.PatternId, pc *Context) (*Result, error) {
	// Admission control: reject before any state is allocated if the
	// bounded work queue for this pattern is saturated.
	if e.admission != nil {
		if _, allowed, err := e.admission.Admit(ctx, string(patternID)); err != nil {
			return nil, fmt.Errorf("%w: %v", coordination.ErrResourceExhausted, err)
		} else if !allowed {
			return nil, fmt.Errorf("%w: pattern %s admission denied", coordination.ErrResourceExhausted, patternID)
		}
	}

	// Step 1: look up the pattern.
	p, ok := e.registry.Get(patternID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", coordination.ErrPatternNotFound, patternID)
	}
	md := p.Metadata()

	// Step 2: fresh PatternState, inserted into the active map.
	state := NewState(patternID)
	execCtx, cancel := context.WithCancel(ctx)
	exec := &activeExecution{state: state, cancel: cancel}
	e.mu.Lock()
	e.active[patternID] = exec
	e.mu.Unlock()
	e.stats.recordStart()

	defer func() {
		e.mu.Lock()
		delete(e.active, patternID)
		e.mu.Unlock()
		cancel()
	}()

	// Entry-time snapshot of the context (Open Question #1, resolved in DESIGN.md).
	execPC := pc.Clone()
	execPC.BindState(state)

	monitoring := e.monitor != nil && execPC.Config.EnableMonitoring
	if monitoring {
		e.monitor.IncPatternActive(string(patternID))
		defer e.monitor.DecPatternActive(string(patternID))
	}

	// Step 3: Validating.
	_ = state.Transition(PhaseValidating)
	vr, err := e.validator.Validate(execCtx, md, execPC)
	if err != nil {
		_ = state.Transition(PhaseFailed)
		e.stats.recordOutcome(PhaseFailed)
		return nil, fmt.Errorf("%w: %v", coordination.ErrValidationFailed, err)
	}
	if !vr.IsValid {
		_ = state.Transition(PhaseFailed)
		e.stats.recordOutcome(PhaseFailed)
		e.stats.mu.Lock()
		e.stats.ValidationErrors++
		e.stats.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", coordination.ErrValidationFailed, vr.Errors)
	}

	// Step 4: optional initial checkpoint.
	if execPC.Config.EnableRollback && e.checkpoints != nil {
		if _, err := e.checkpoints.Create(execCtx, patternID, execPC, map[string]any{"reason": "initial"}); err != nil {
			slog.Warn("failed to create initial checkpoint", "pattern_id", patternID, "error", err)
		}
	}

	retriesUsed := 0
	checkpointsRestored := 0
	startTime := coordination.Now()

	var finalErr error
	var body map[string]any

executionLoop:
	for {
		select {
		case <-execCtx.Done():
			_ = state.Transition(PhaseCancelled)
			e.stats.recordOutcome(PhaseCancelled)
			finalErr = coordination.ErrCancelled
			break executionLoop
		default:
		}

		_ = state.Transition(PhaseExecuting)
		state.SetProgress(0.3)

		body, err = e.runBodyWithTimeout(execCtx, p, execPC, time.Duration(execPC.Config.TimeoutSeconds)*time.Second)

		if err == nil {
			_ = state.Transition(PhaseCoordinating)
			state.SetProgress(0.8)
			_ = state.Transition(PhaseCompleting)
			state.SetProgress(1.0)
			_ = state.Transition(PhaseCompleted)
			e.stats.recordOutcome(PhaseCompleted)
			finalErr = nil
			break executionLoop
		}

		switch {
		case errors.Is(err, coordination.ErrPatternTimeout):
			_ = state.Transition(PhaseFailed)
			e.stats.recordOutcome(PhaseFailed)
			finalErr = coordination.ErrPatternTimeout
			break executionLoop
		case errors.Is(err, coordination.ErrCancelled):
			_ = state.Transition(PhaseCancelled)
			e.stats.recordOutcome(PhaseCancelled)
			finalErr = coordination.ErrCancelled
			break executionLoop
		case coordination.IsExecutionError(err):
			// Step 6: retry policy.
			if retriesUsed < execPC.Config.MaxRetries {
				retriesUsed++
				e.stats.mu.Lock()
				e.stats.TotalRetries++
				e.stats.mu.Unlock()
				if e.checkpoints != nil {
					if _, restored, rerr := e.checkpoints.RestoreLatest(execCtx, patternID, execPC); rerr == nil && restored {
						checkpointsRestored++
					}
				}
				continue executionLoop
			}
			_ = state.Transition(PhaseFailed)
			e.stats.recordOutcome(PhaseFailed)
			finalErr = err
			break executionLoop
		default:
			_ = state.Transition(PhaseFailed)
			e.stats.recordOutcome(PhaseFailed)
			finalErr = err
			break executionLoop
		}
	}

	// Step 7: rollback on failure.
	if finalErr != nil && execPC.Config.EnableRollback {
		_ = state.Transition(PhaseRollingBack)
		if rbErr := p.Rollback(ctx, execPC); rbErr != nil {
			e.stats.mu.Lock()
			e.stats.RollbackErrors++
			e.stats.mu.Unlock()
			slog.Error("rollback failed", "pattern_id", patternID, "original_error", finalErr, "rollback_error", rbErr)
		} else {
			e.stats.mu.Lock()
			e.stats.RollbacksRun++
			e.stats.mu.Unlock()
		}
		_ = state.Transition(PhaseFailed)
	}

	elapsed := coordination.Now().Sub(startTime)

	if finalErr != nil {
		if monitoring {
			e.monitor.RecordPatternError(string(patternID), errorType(finalErr))
		}
		return nil, finalErr
	}
	if monitoring {
		e.monitor.RecordPatternExecution(string(patternID), string(md.Category), elapsed)
	}

	return &Result{
		PatternID: patternID,
		Success:   true,
		Data:      body,
		PerformanceMetrics: PerformanceMetrics{
			ExecutionTimeMs:       elapsed.Milliseconds(),
			CoordinationOverheadS: elapsed.Seconds() * 0.1,
			RetriesUsed:           retriesUsed,
			CheckpointsRestored:   checkpointsRestored,
		},
		CompletedAt:     coordination.Now(),
		Metadata:        map[string]any{"schema_version": coordination.SchemaVersion},
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

// runBodyWithTimeout races the pattern body against a timer, the
// suspension-point idiom mandated by spec §5 ("Timeout races (select
// between pattern body and timer)").
func (e *Executor) runBodyWithTimeout(ctx context.Context, p CoordinationPattern, pc *Context, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	bodyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		data map[string]any
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := p.Execute(bodyCtx, pc)
		done <- result{data: data, err: err}
	}()

	select {
	case <-bodyCtx.Done():
		if ctx.Err() != nil {
			return nil, coordination.ErrCancelled
		}
		return nil, coordination.ErrPatternTimeout
	case r := <-done:
		if r.err != nil {
			return nil, coordination.NewExecutionError(r.err.Error())
		}
		return r.data, nil
	}
}

// errorType maps a terminal execution error to its metrics label.
func errorType(err error) string {
	switch {
	case errors.Is(err, coordination.ErrPatternTimeout):
		return "timeout"
	case errors.Is(err, coordination.ErrCancelled):
		return "cancelled"
	case errors.Is(err, coordination.ErrValidationFailed):
		return "validation_failed"
	case coordination.IsExecutionError(err):
		return "execution_error"
	default:
		return "error"
	}
}

// Cancel requests cancellation of an in-flight pattern execution (spec
// §5 cooperative cancellation). A pattern already in a terminal phase
// is a no-op.
func (e *Executor) Cancel(patternID coordination.PatternId) error {
	e.mu.RLock()
	exec, ok := e.active[patternID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no active execution for %s", coordination.ErrNotFound, patternID)
	}
	if exec.state.IsTerminal() {
		return nil
	}
	exec.cancel()
	return nil
}

// ActivePatterns returns a snapshot of every currently executing pattern's state.
func (e *Executor) ActivePatterns() []StateSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]StateSnapshot, 0, len(e.active))
	for _, exec := range e.active {
		out = append(out, exec.state.Snapshot())
	}
	return out
}

// GetStatistics returns the executor's accumulated statistics.
func (e *Executor) GetStatistics() StatisticsSnapshot {
	return e.stats.Snapshot()
}
