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
	"fmt"
)

// AdmissionController gates pattern executions through a RateLimiter.
// It is the backpressure mechanism a bounded work queue per component
// needs: saturation denies admission instead of letting the active-
// pattern map grow without bound. One identifier bucket per pattern ID
// (or per agent ID, depending on scope) tracks execution attempts over
// the configured windows.
type AdmissionController struct {
	limiter RateLimiter
	scope   Scope
}

// NewAdmissionController wraps a RateLimiter as admission control for a
// given scope. A nil limiter makes every admission check a no-op pass,
// so callers can wire this unconditionally and let configuration decide
// whether limits are enforced.
func NewAdmissionController(limiter RateLimiter, scope Scope) *AdmissionController {
	return &AdmissionController{limiter: limiter, scope: scope}
}

// Admit checks and records one execution attempt for identifier (a
// pattern ID or agent ID, depending on scope). It returns the usage
// snapshot and whether the attempt is allowed.
func (a *AdmissionController) Admit(ctx context.Context, identifier string) (*CheckResult, bool, error) {
	if a == nil || a.limiter == nil {
		return nil, true, nil
	}
	result, err := a.limiter.CheckAndRecord(ctx, a.scope, identifier, 0, 1)
	if err != nil {
		return nil, false, fmt.Errorf("admission check failed: %w", err)
	}
	return result, result.Allowed, nil
}

// Usage returns the current admission usage for identifier, for
// statistics and status reporting.
func (a *AdmissionController) Usage(ctx context.Context, identifier string) ([]Usage, error) {
	if a == nil || a.limiter == nil {
		return nil, nil
	}
	return a.limiter.GetUsage(ctx, a.scope, identifier)
}

// Reset clears accumulated admission usage for identifier, e.g. after
// an operator manually clears backpressure.
func (a *AdmissionController) Reset(ctx context.Context, identifier string) error {
	if a == nil || a.limiter == nil {
		return nil
	}
	return a.limiter.Reset(ctx, a.scope, identifier)
}
