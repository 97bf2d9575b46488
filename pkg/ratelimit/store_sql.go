// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

const createRateLimitTableSQL = `
CREATE TABLE IF NOT EXISTS rate_limit_usage (
    scope VARCHAR(64) NOT NULL,
    identifier VARCHAR(255) NOT NULL,
    limit_type VARCHAR(32) NOT NULL,
    time_window VARCHAR(32) NOT NULL,
    amount BIGINT NOT NULL,
    window_end TIMESTAMP NOT NULL,
    PRIMARY KEY (scope, identifier, limit_type, time_window)
)`

// SQLStore is a SQL-backed implementation of Store, sharing the engine's
// database connection pool. Window bookkeeping runs under a process-local
// mutex; the SQL tier provides durability across restarts, not
// cross-instance coordination.
type SQLStore struct {
	mu      sync.Mutex
	db      *sql.DB
	dialect string
}

// NewSQLStore creates a SQL-backed store for the given dialect
// (postgres, mysql, or sqlite).
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createRateLimitTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create rate_limit_usage table: %w", err)
	}

	return &SQLStore{db: db, dialect: normalized}, nil
}

func (s *SQLStore) placeholders(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func (s *SQLStore) readRow(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, bool, error) {
	query := s.placeholders(`SELECT amount, window_end FROM rate_limit_usage WHERE scope = ? AND identifier = ? AND limit_type = ? AND time_window = ?`)
	var amount int64
	var windowEnd time.Time
	err := s.db.QueryRowContext(ctx, query, string(scope), identifier, string(limitType), string(window)).Scan(&amount, &windowEnd)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("failed to read rate limit usage: %w", err)
	}
	return amount, windowEnd, true, nil
}

func (s *SQLStore) writeRow(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time, exists bool) error {
	var query string
	var args []any
	if exists {
		query = s.placeholders(`UPDATE rate_limit_usage SET amount = ?, window_end = ? WHERE scope = ? AND identifier = ? AND limit_type = ? AND time_window = ?`)
		args = []any{amount, windowEnd, string(scope), identifier, string(limitType), string(window)}
	} else {
		query = s.placeholders(`INSERT INTO rate_limit_usage (scope, identifier, limit_type, time_window, amount, window_end) VALUES (?, ?, ?, ?, ?, ?)`)
		args = []any{string(scope), identifier, string(limitType), string(window), amount, windowEnd}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write rate limit usage: %w", err)
	}
	return nil
}

// GetUsage gets current usage for a specific limit.
func (s *SQLStore) GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	amount, windowEnd, exists, err := s.readRow(ctx, scope, identifier, limitType, window)
	if err != nil {
		return 0, time.Time{}, err
	}
	now := time.Now()
	if !exists || windowEnd.Before(now) {
		return 0, now.Add(window.Duration()), nil
	}
	return amount, windowEnd, nil
}

// IncrementUsage increments usage for a specific limit, resetting the
// window first if it has expired.
func (s *SQLStore) IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, windowEnd, exists, err := s.readRow(ctx, scope, identifier, limitType, window)
	if err != nil {
		return 0, time.Time{}, err
	}

	now := time.Now()
	if !exists || windowEnd.Before(now) {
		current = amount
		windowEnd = now.Add(window.Duration())
	} else {
		current += amount
	}

	if err := s.writeRow(ctx, scope, identifier, limitType, window, current, windowEnd, exists); err != nil {
		return 0, time.Time{}, err
	}
	return current, windowEnd, nil
}

// SetUsage sets usage for a specific limit.
func (s *SQLStore) SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _, exists, err := s.readRow(ctx, scope, identifier, limitType, window)
	if err != nil {
		return err
	}
	return s.writeRow(ctx, scope, identifier, limitType, window, amount, windowEnd, exists)
}

// DeleteUsage deletes all usage records for an identifier.
func (s *SQLStore) DeleteUsage(ctx context.Context, scope Scope, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.placeholders(`DELETE FROM rate_limit_usage WHERE scope = ? AND identifier = ?`)
	if _, err := s.db.ExecContext(ctx, query, string(scope), identifier); err != nil {
		return fmt.Errorf("failed to delete rate limit usage: %w", err)
	}
	return nil
}

// DeleteExpired deletes all expired usage records.
func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.placeholders(`DELETE FROM rate_limit_usage WHERE window_end < ?`)
	if _, err := s.db.ExecContext(ctx, query, before); err != nil {
		return fmt.Errorf("failed to delete expired rate limit usage: %w", err)
	}
	return nil
}

// Close releases nothing of its own: the *sql.DB belongs to the engine's
// connection pool.
func (s *SQLStore) Close() error {
	return nil
}
