// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package pattern

import (
	"fmt"
	"sync"

	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/kadirpekel/coordforge/pkg/registry"
)

// Registry is the Pattern Registry (C4): patterns indexed by ID,
// category, and required capability (spec §4.1).
type Registry struct {
	base *registry.BaseRegistry[CoordinationPattern]

	mu           sync.RWMutex
	byCategory   map[Category]map[coordination.PatternId]struct{}
	byCapability map[string]map[coordination.PatternId]struct{}
}

// NewRegistry builds an empty Pattern Registry.
func NewRegistry() *Registry {
	return &Registry{
		base:         registry.NewBaseRegistry[CoordinationPattern](),
		byCategory:   make(map[Category]map[coordination.PatternId]struct{}),
		byCapability: make(map[string]map[coordination.PatternId]struct{}),
	}
}

// Register adds p to the registry, rejecting duplicate IDs and
// re-indexing by category and required capability (spec §4.1).
func (r *Registry) Register(p CoordinationPattern) error {
	md := p.Metadata()
	if err := md.Validate(); err != nil {
		return err
	}
	if err := r.base.Register(string(md.ID), p); err != nil {
		return fmt.Errorf("%w: pattern %s", coordination.ErrAlreadyExists, md.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexUnlocked(md)
	return nil
}

func (r *Registry) indexUnlocked(md Metadata) {
	if r.byCategory[md.Category] == nil {
		r.byCategory[md.Category] = make(map[coordination.PatternId]struct{})
	}
	r.byCategory[md.Category][md.ID] = struct{}{}

	for _, cap := range md.RequiredCapabilities {
		if r.byCapability[cap] == nil {
			r.byCapability[cap] = make(map[coordination.PatternId]struct{})
		}
		r.byCapability[cap][md.ID] = struct{}{}
	}
}

// Get looks up a pattern by ID.
func (r *Registry) Get(id coordination.PatternId) (CoordinationPattern, bool) {
	return r.base.Get(string(id))
}

// List returns every registered pattern.
func (r *Registry) List() []CoordinationPattern {
	return r.base.List()
}

// FindByCategory returns every pattern registered under cat.
func (r *Registry) FindByCategory(cat Category) []CoordinationPattern {
	r.mu.RLock()
	ids := r.byCategory[cat]
	out := make([]coordination.PatternId, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	r.mu.RUnlock()
	return r.resolve(out)
}

// FindByCapability returns every pattern that requires cap.
func (r *Registry) FindByCapability(cap string) []CoordinationPattern {
	r.mu.RLock()
	ids := r.byCapability[cap]
	out := make([]coordination.PatternId, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	r.mu.RUnlock()
	return r.resolve(out)
}

func (r *Registry) resolve(ids []coordination.PatternId) []CoordinationPattern {
	out := make([]CoordinationPattern, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.base.Get(string(id)); ok {
			out = append(out, p)
		}
	}
	return out
}

// Unregister removes a pattern from the primary map and every index
// (spec §4.1).
func (r *Registry) Unregister(id coordination.PatternId) error {
	p, ok := r.base.Get(string(id))
	if !ok {
		return fmt.Errorf("%w: pattern %s", coordination.ErrNotFound, id)
	}
	if err := r.base.Remove(string(id)); err != nil {
		return err
	}

	md := p.Metadata()
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byCategory[md.Category], id)
	for _, cap := range md.RequiredCapabilities {
		delete(r.byCapability[cap], id)
	}
	return nil
}

// Count returns the number of registered patterns.
func (r *Registry) Count() int {
	return r.base.Count()
}
