// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package gitflow

import (
	"fmt"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/kadirpekel/coordforge/pkg/coordination"
)

// mergeInto checks out targetBranch and three-way merges sourceCommit
// into it (fail_on_conflict=true per spec §4.8). go-git has no native
// merge algorithm, so the merge base, the base→ours and base→theirs
// tree diffs are computed directly via go-git's tree-diff plumbing and
// a merge commit is built with two explicit parents (go-git's
// CommitOptions.Parents) — the documented way to construct a merge
// commit with this library, since there is no first-party "merge two
// branches" example in the pack to follow instead.
//
// When the same path changed on both sides with different content, the
// merge fails: the conflicting file is left in the worktree with
// <<<<<<</=======/>>>>>>> markers (exactly as a real conflicted git
// merge would leave it) and no commit is produced.
func (g *Integration) mergeInto(targetBranch string, sourceCommit *object.Commit, message string) (plumbing.Hash, []ConflictInfo, error) {
	if err := g.checkout(targetBranch); err != nil {
		return plumbing.ZeroHash, nil, fmt.Errorf("checkout %s: %w", targetBranch, err)
	}

	targetCommit, err := g.branchCommit(targetBranch)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	if targetCommit.Hash == sourceCommit.Hash {
		return targetCommit.Hash, nil, nil
	}

	bases, err := targetCommit.MergeBase(sourceCommit)
	if err != nil || len(bases) == 0 {
		return plumbing.ZeroHash, nil, fmt.Errorf("%w: no common ancestor between %s and %s", coordination.ErrValidation, targetBranch, sourceCommit.Hash)
	}
	base := bases[0]

	baseTree, err := base.Tree()
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	oursTree, err := targetCommit.Tree()
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	theirsTree, err := sourceCommit.Tree()
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	oursChanges, err := object.DiffTree(baseTree, oursTree)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	theirsChanges, err := object.DiffTree(baseTree, theirsTree)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	oursPaths := changedPaths(oursChanges)
	theirsPaths := changedPaths(theirsChanges)

	wt, err := g.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	var conflicts []ConflictInfo
	for path := range theirsPaths {
		theirsContent, theirsPresent, rerr := fileContents(theirsTree, path)
		if rerr != nil {
			return plumbing.ZeroHash, nil, rerr
		}

		if _, alsoOurs := oursPaths[path]; alsoOurs {
			oursContent, oursPresent, oerr := fileContents(oursTree, path)
			if oerr != nil {
				return plumbing.ZeroHash, nil, oerr
			}
			if oursPresent && theirsPresent && oursContent == theirsContent {
				continue // both sides converged on the same content
			}
			marker := mergeMarkers(oursContent, theirsContent)
			if err := util.WriteFile(wt.Filesystem, path, []byte(marker), 0644); err != nil {
				return plumbing.ZeroHash, nil, err
			}
			conflicts = append(conflicts, ConflictInfo{
				FilePath:     path,
				ConflictType: ConflictMerge,
				Details:      "merge conflict: both sides modified " + path,
			})
			continue
		}

		if !theirsPresent {
			if _, err := wt.Remove(path); err != nil {
				return plumbing.ZeroHash, nil, err
			}
			continue
		}
		if err := util.WriteFile(wt.Filesystem, path, []byte(theirsContent), 0644); err != nil {
			return plumbing.ZeroHash, nil, err
		}
		if _, err := wt.Add(path); err != nil {
			return plumbing.ZeroHash, nil, err
		}
	}

	if len(conflicts) > 0 {
		g.mu.Lock()
		g.pending = append(g.pending, conflicts...)
		g.mu.Unlock()
		return plumbing.ZeroHash, conflicts, nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author:    commitSignature(),
		Committer: commitSignature(),
		Parents:   []plumbing.Hash{targetCommit.Hash, sourceCommit.Hash},
	})
	if err != nil {
		return plumbing.ZeroHash, nil, fmt.Errorf("create merge commit: %w", err)
	}
	return hash, nil, nil
}

func changedPaths(changes object.Changes) map[string]*object.Change {
	out := make(map[string]*object.Change, len(changes))
	for _, c := range changes {
		path := c.To.Name
		if path == "" {
			path = c.From.Name
		}
		out[path] = c
	}
	return out
}

// fileContents returns a tree entry's blob content, or ("", false, nil)
// if the path does not exist in tree (it was deleted on that side).
func fileContents(tree *object.Tree, path string) (string, bool, error) {
	file, err := tree.File(path)
	if err != nil {
		if err == object.ErrFileNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	content, err := file.Contents()
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

func mergeMarkers(ours, theirs string) string {
	return "<<<<<<< HEAD\n" + ours + "\n=======\n" + theirs + "\n>>>>>>> incoming\n"
}
