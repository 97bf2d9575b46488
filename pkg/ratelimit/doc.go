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

// Package ratelimit provides a comprehensive rate limiting system used
// as admission control / backpressure for the coordination engine.
//
// Features:
//   - Multi-layer time windows (minute, hour, day, week, month)
//   - Dual tracking (weighted work units AND execution count)
//   - Flexible scopes (per-pattern, per-agent, per-session, per-user)
//   - Multiple storage backends (in-memory and SQL)
//   - Atomic check-and-record operations
//   - Detailed usage statistics
//
// # Basic Usage
//
//	// Create store (memory or SQL)
//	store := ratelimit.NewMemoryStore()
//
//	// Create limiter with config
//	limiter, err := ratelimit.NewRateLimiterFromConfigWithStore(cfg, store)
//
//	// Gate pattern executions through an admission controller
//	admission := ratelimit.NewAdmissionController(limiter, ratelimit.ScopePattern)
//	_, allowed, err := admission.Admit(ctx, "pattern-id")
//	if !allowed {
//	    // Saturated: surface ResourceExhausted to the caller
//	}
//
// # Configuration
//
//	rate_limiting:
//	  enabled: true
//	  scope: "pattern"  # or "agent", "session", "user"
//	  backend: "memory"  # or "sql"
//	  limits:
//	    - type: count
//	      window: minute
//	      limit: 60
//	    - type: count
//	      window: hour
//	      limit: 1000
//
// # Time Windows
//
//   - minute: 60 seconds (burst protection)
//   - hour: 60 minutes (short-term limits)
//   - day: 24 hours (daily quotas)
//   - week: 7 days (weekly budgets)
//   - month: 30 days (monthly budgets)
//
// # Limit Types
//
//   - token: Track weighted work units (resource cost control)
//   - count: Track execution count (rate throttling, backpressure)
//
// # Scopes
//
//   - pattern: Each coordination pattern has independent quotas
//   - agent: All work handed to an agent shares that agent's quota
//   - session / user: Caller-defined identifier spaces
package ratelimit
