// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/kadirpekel/coordforge/pkg/config"
	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/kadirpekel/coordforge/pkg/pattern"
)

// Manager is the CheckpointManager (spec §6): create_checkpoint, restore,
// cleanup_old_checkpoints. execute_enhanced_recovery lives on
// RecoveryManager (ExecuteEnhancedRecovery). Manager satisfies
// pattern.CheckpointStore so the Pattern Executor can depend on it
// through that narrow interface.
type Manager struct {
	store  *Store
	config config.CheckpointConfig
}

// NewManager wires a checkpoint Manager over a store and retention config.
func NewManager(store *Store, cfg config.CheckpointConfig) *Manager {
	if store == nil {
		store = NewStore()
	}
	cfg.SetDefaults()
	return &Manager{store: store, config: cfg}
}

// Create captures a full snapshot of context and pattern state (spec
// §4.4 create_checkpoint). Cost is O(agents + resource entries).
func (m *Manager) Create(ctx context.Context, patternID coordination.PatternId, pc *pattern.Context, metadata map[string]any) (coordination.CheckpointId, error) {
	cp := NewCheckpointFromContext(patternID, pc, metadata)
	if err := m.store.Append(ctx, cp); err != nil {
		return "", err
	}
	return cp.ID, nil
}

// CreateFromState is the full form used by the executor, which already
// holds a *pattern.State snapshot.
func (m *Manager) CreateFromState(ctx context.Context, patternID coordination.PatternId, state pattern.StateSnapshot, pc *pattern.Context, metadata map[string]any) (coordination.CheckpointId, error) {
	cp := NewCheckpoint(patternID, state, pc, metadata)
	if err := m.store.Append(ctx, cp); err != nil {
		return "", err
	}
	return cp.ID, nil
}

// Restore overwrites ctx's agents and resources from the named checkpoint
// (spec §4.4 restore).
func (m *Manager) Restore(_ context.Context, id coordination.CheckpointId, pc *pattern.Context) error {
	cp, err := m.store.Get(id)
	if err != nil {
		return err
	}
	cp.Restore(pc)
	return nil
}

// RestoreLatest restores the most recent checkpoint for patternID,
// implementing the executor's retry tie-break (spec §4.2: "pick the most
// recent one belonging to this pattern execution"). It satisfies
// pattern.CheckpointStore.
func (m *Manager) RestoreLatest(ctx context.Context, patternID coordination.PatternId, pc *pattern.Context) (coordination.CheckpointId, bool, error) {
	cp, ok := m.store.Latest(patternID)
	if !ok {
		return "", false, nil
	}
	cp.Restore(pc)
	return cp.ID, true, nil
}

// CleanupOldCheckpoints evicts checkpoints past the retention policy
// (spec §6 cleanup_old_checkpoints(max_age_hours) -> count).
func (m *Manager) CleanupOldCheckpoints(maxAgeHours int) int {
	if maxAgeHours <= 0 {
		maxAgeHours = m.config.MaxAgeHours
	}
	removed := m.store.Cleanup(time.Duration(maxAgeHours)*time.Hour, m.config.MaxCount)
	if removed > 0 {
		slog.Debug("cleaned up checkpoints", "removed", removed)
	}
	return removed
}

// Store exposes the underlying checkpoint store (used by the recovery manager).
func (m *Manager) Store() *Store { return m.store }

var _ pattern.CheckpointStore = (*Manager)(nil)
