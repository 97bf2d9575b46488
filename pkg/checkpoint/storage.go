// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kadirpekel/coordforge/pkg/coordination"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	createCheckpointsTableSQL = `
CREATE TABLE IF NOT EXISTS pattern_checkpoints (
    id VARCHAR(255) PRIMARY KEY,
    pattern_id VARCHAR(255) NOT NULL,
    schema_version VARCHAR(32) NOT NULL,
    payload_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

	createCheckpointsPatternIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_pattern_checkpoints_pattern_id ON pattern_checkpoints(pattern_id)`
)

// Store is the Checkpoint store (C7): an append-only, immutable map of
// CheckpointId to PatternCheckpoint, with LRU-style retention by max age
// and max count (spec §4.4). An in-memory index backs append-only writes
// under an exclusive lock and reads by ID under a shared read lock; an
// optional SQL-backed durable tier mirrors writes for restart survival.
type Store struct {
	mu      sync.RWMutex
	byID    map[coordination.CheckpointId]*PatternCheckpoint
	byOrder []coordination.CheckpointId // insertion order, oldest first

	db      *sql.DB
	dialect string
}

// NewStore builds an in-memory checkpoint store.
func NewStore() *Store {
	return &Store{
		byID: make(map[coordination.CheckpointId]*PatternCheckpoint),
	}
}

// NewDurableStore builds a checkpoint store backed by a SQL database in
// addition to the in-memory index, following the teacher's dialect-aware
// DDL/DML idiom for SQL-backed stores.
func NewDurableStore(db *sql.DB, dialect string) (*Store, error) {
	s := NewStore()
	if db == nil {
		return s, nil
	}
	normalized := dialect
	if dialect == "sqlite3" {
		normalized = "sqlite"
	}
	switch normalized {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}
	s.db = db
	s.dialect = normalized

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createCheckpointsTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create pattern_checkpoints table: %w", err)
	}
	if _, err := db.ExecContext(ctx, createCheckpointsPatternIndexSQL); err != nil {
		return nil, fmt.Errorf("failed to create pattern_id index: %w", err)
	}
	return s, nil
}

// Append writes an immutable checkpoint, persisting to the durable tier
// when configured.
func (s *Store) Append(ctx context.Context, cp *PatternCheckpoint) error {
	if cp == nil {
		return fmt.Errorf("cannot append nil checkpoint")
	}

	s.mu.Lock()
	s.byID[cp.ID] = cp
	s.byOrder = append(s.byOrder, cp.ID)
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	payload, err := cp.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	query := `INSERT INTO pattern_checkpoints (id, pattern_id, schema_version, payload_json, created_at) VALUES (?, ?, ?, ?, ?)`
	if s.dialect == "postgres" {
		query = `INSERT INTO pattern_checkpoints (id, pattern_id, schema_version, payload_json, created_at) VALUES ($1, $2, $3, $4, $5)`
	}
	_, err = s.db.ExecContext(ctx, query, string(cp.ID), string(cp.PatternID), cp.SchemaVersion, string(payload), cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return nil
}

// Get retrieves a checkpoint by ID (spec §6 CheckpointManager.restore precondition).
func (s *Store) Get(id coordination.CheckpointId) (*PatternCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", coordination.ErrCheckpointNotFound, id)
	}
	return cp, nil
}

// Latest returns the most recently appended checkpoint for patternID,
// implementing the "most recent" tie-break (spec §4.2).
func (s *Store) Latest(patternID coordination.PatternId) (*PatternCheckpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.byOrder) - 1; i >= 0; i-- {
		cp := s.byID[s.byOrder[i]]
		if cp != nil && cp.PatternID == patternID {
			return cp, true
		}
	}
	return nil, false
}

// ForPattern returns every checkpoint for patternID, oldest first.
func (s *Store) ForPattern(patternID coordination.PatternId) []*PatternCheckpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PatternCheckpoint, 0)
	for _, id := range s.byOrder {
		cp := s.byID[id]
		if cp != nil && cp.PatternID == patternID {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Cleanup evicts checkpoints older than maxAge and enforces maxCount via
// LRU eviction of the oldest entries (spec §4.4 retention policies).
func (s *Store) Cleanup(maxAge time.Duration, maxCount int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := coordination.Now()
	kept := make([]coordination.CheckpointId, 0, len(s.byOrder))
	removed := 0
	for _, id := range s.byOrder {
		cp := s.byID[id]
		if cp == nil {
			continue
		}
		if maxAge > 0 && now.Sub(cp.CreatedAt) > maxAge {
			delete(s.byID, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}

	if maxCount > 0 && len(kept) > maxCount {
		excess := len(kept) - maxCount
		for _, id := range kept[:excess] {
			delete(s.byID, id)
			removed++
		}
		kept = kept[excess:]
	}

	s.byOrder = kept
	return removed
}

// Count returns the number of checkpoints currently retained.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byOrder)
}
