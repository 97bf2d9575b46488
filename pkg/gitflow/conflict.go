// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package gitflow

import (
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"

	"github.com/kadirpekel/coordforge/pkg/coordination"
)

// ConflictType classifies the git operation that produced a conflict
// (spec §4.8).
type ConflictType string

const (
	ConflictMerge      ConflictType = "merge"
	ConflictCheckout   ConflictType = "checkout"
	ConflictRebase     ConflictType = "rebase"
	ConflictCherryPick ConflictType = "cherry_pick"
)

// ConflictInfo describes one conflicted file (spec §4.8).
type ConflictInfo struct {
	FilePath     string
	ConflictType ConflictType
	Details      string
}

// AutoResolutionStrategy is the closed set of marker-based automatic
// resolution strategies (spec §4.8).
type AutoResolutionStrategy string

const (
	AutoCurrent  AutoResolutionStrategy = "current"
	AutoIncoming AutoResolutionStrategy = "incoming"
	AutoBase     AutoResolutionStrategy = "base"
	AutoMerge    AutoResolutionStrategy = "merge"
)

// ConflictResolutionStrategy picks how resolve_conflicts handles the
// pending conflict set (spec §4.8: Auto(strategy) | Manual | Abort).
type ConflictResolutionStrategy struct {
	kind string
	auto AutoResolutionStrategy
}

func Auto(strategy AutoResolutionStrategy) ConflictResolutionStrategy {
	return ConflictResolutionStrategy{kind: "auto", auto: strategy}
}

func Manual() ConflictResolutionStrategy { return ConflictResolutionStrategy{kind: "manual"} }

func Abort() ConflictResolutionStrategy { return ConflictResolutionStrategy{kind: "abort"} }

// ConflictResolutionResult is resolve_conflicts's result (spec §4.8).
type ConflictResolutionResult struct {
	Success             bool
	ResolvedConflicts   []string
	UnresolvedConflicts []ConflictInfo
	Messages            []string
}

// DetectConflicts returns every file left conflicted by the last merge
// attempt (spec §4.8: "scans repository statuses"). go-git exposes no
// equivalent of libgit2's conflicted-index-entry scan, so conflicts are
// the ones mergeInto recorded when it found divergent content on both
// sides of a three-way merge.
func (g *Integration) DetectConflicts() []ConflictInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ConflictInfo(nil), g.pending...)
}

// ResolveConflicts dispatches the pending conflict set to strategy
// (spec §4.8). Auto(*) strategies rewrite each conflicted file's marker
// content on disk and stage the result; Manual returns the list
// untouched; Abort resets HEAD, discarding the failed merge's worktree
// changes.
func (g *Integration) ResolveConflicts(strategy ConflictResolutionStrategy) (ConflictResolutionResult, error) {
	g.mu.Lock()
	conflicts := append([]ConflictInfo(nil), g.pending...)
	g.mu.Unlock()

	switch strategy.kind {
	case "abort":
		if err := g.abortMerge(); err != nil {
			return ConflictResolutionResult{}, err
		}
		g.clearPending()
		return ConflictResolutionResult{
			Success:             false,
			UnresolvedConflicts: conflicts,
			Messages:            []string{"Merge aborted due to conflicts"},
		}, nil

	case "manual":
		return ConflictResolutionResult{
			Success:             len(conflicts) == 0,
			UnresolvedConflicts: conflicts,
			Messages:            []string{"Conflicts require manual resolution"},
		}, nil

	case "auto":
		return g.resolveAuto(conflicts, strategy.auto)

	default:
		return ConflictResolutionResult{}, fmt.Errorf("%w: unknown conflict resolution strategy", coordination.ErrValidation)
	}
}

func (g *Integration) resolveAuto(conflicts []ConflictInfo, strategy AutoResolutionStrategy) (ConflictResolutionResult, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return ConflictResolutionResult{}, err
	}

	var resolved []string
	var unresolved []ConflictInfo
	var messages []string

	for _, c := range conflicts {
		content, err := util.ReadFile(wt.Filesystem, c.FilePath)
		if err != nil {
			unresolved = append(unresolved, withDetails(c, "Auto-resolution failed: "+err.Error()))
			continue
		}

		resolvedContent, err := resolveMarkers(string(content), strategy)
		if err != nil {
			unresolved = append(unresolved, withDetails(c, "Auto-resolution failed: "+err.Error()))
			continue
		}

		if err := util.WriteFile(wt.Filesystem, c.FilePath, []byte(resolvedContent), 0644); err != nil {
			unresolved = append(unresolved, withDetails(c, "Auto-resolution failed: "+err.Error()))
			continue
		}
		resolved = append(resolved, c.FilePath)
		messages = append(messages, fmt.Sprintf("Resolved conflict in %s", c.FilePath))
	}

	if len(resolved) > 0 {
		for _, path := range resolved {
			if _, err := wt.Add(path); err != nil {
				return ConflictResolutionResult{}, fmt.Errorf("stage resolved file %s: %w", path, err)
			}
		}
	}

	g.mu.Lock()
	g.pending = unresolvedOnly(g.pending, resolved)
	g.mu.Unlock()

	return ConflictResolutionResult{
		Success:             len(unresolved) == 0,
		ResolvedConflicts:   resolved,
		UnresolvedConflicts: unresolved,
		Messages:            messages,
	}, nil
}

func withDetails(c ConflictInfo, details string) ConflictInfo {
	c.Details = details
	return c
}

func unresolvedOnly(pending []ConflictInfo, resolved []string) []ConflictInfo {
	resolvedSet := make(map[string]bool, len(resolved))
	for _, r := range resolved {
		resolvedSet[r] = true
	}
	var out []ConflictInfo
	for _, c := range pending {
		if !resolvedSet[c.FilePath] {
			out = append(out, c)
		}
	}
	return out
}

func (g *Integration) clearPending() {
	g.mu.Lock()
	g.pending = nil
	g.mu.Unlock()
}

// abortMerge hard-resets the worktree to HEAD, discarding any marker
// files a failed merge left behind (spec §4.8: Abort).
func (g *Integration) abortMerge() error {
	head, err := g.repo.Head()
	if err != nil {
		return fmt.Errorf("%w: HEAD: %v", coordination.ErrNotFound, err)
	}
	wt, err := g.repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset})
}

const (
	markerStart = "<<<<<<<"
	markerMid   = "======="
	markerEnd   = ">>>>>>>"
)

// resolveMarkers applies one of the four marker-based strategies to a
// conflicted file's text (spec §4.8, ported line-by-line from
// git_basic.rs's resolve_with_{current,incoming,base,merge}_version).
func resolveMarkers(content string, strategy AutoResolutionStrategy) (string, error) {
	lines := strings.Split(content, "\n")

	switch strategy {
	case AutoCurrent:
		var out []string
		inConflict, pastMid := false, false
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, markerStart):
				inConflict, pastMid = true, false
			case strings.HasPrefix(line, markerMid):
				pastMid = true
			case strings.HasPrefix(line, markerEnd):
				inConflict, pastMid = false, false
			case inConflict && pastMid:
				// skip incoming version
			default:
				out = append(out, line)
			}
		}
		return strings.Join(out, "\n"), nil

	case AutoIncoming:
		var out []string
		inConflict, inIncoming := false, false
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, markerStart):
				inConflict, inIncoming = true, false
			case strings.HasPrefix(line, markerMid):
				inIncoming = true
			case strings.HasPrefix(line, markerEnd):
				inConflict, inIncoming = false, false
			case inConflict && inIncoming:
				out = append(out, line)
			case !inConflict:
				out = append(out, line)
			}
		}
		return strings.Join(out, "\n"), nil

	case AutoBase:
		// Drops every side of the conflict, a lossy fallback (spec §9
		// open question: may produce degenerate output).
		var out []string
		inConflict := false
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, markerStart):
				inConflict = true
			case strings.HasPrefix(line, markerEnd):
				inConflict = false
			case strings.HasPrefix(line, markerMid):
			case !inConflict:
				out = append(out, line)
			}
		}
		return strings.Join(out, "\n"), nil

	case AutoMerge:
		var out, current, incoming []string
		inConflict, pastMid := false, false
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, markerStart):
				inConflict, pastMid = true, false
				current, incoming = nil, nil
			case strings.HasPrefix(line, markerMid):
				pastMid = true
			case strings.HasPrefix(line, markerEnd):
				inConflict = false
				out = append(out, current...)
				out = append(out, incoming...)
			case inConflict && pastMid:
				incoming = append(incoming, line)
			case inConflict:
				current = append(current, line)
			default:
				out = append(out, line)
			}
		}
		return strings.Join(out, "\n"), nil

	default:
		return "", fmt.Errorf("%w: unknown auto-resolution strategy %q", coordination.ErrValidation, strategy)
	}
}
