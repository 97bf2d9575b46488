// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package observability

// NoopManager returns an observability Manager with tracing and metrics
// both disabled. Every Tracer/Metrics method is nil-receiver safe, so
// callers can invoke them unconditionally whether or not the manager was
// configured with a real backend.
func NoopManager() *Manager {
	return &Manager{}
}
