// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package gitflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) (*git.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return repo, dir
}

func writeAndCommit(t *testing.T, repo *git.Repository, dir, path, content, message string) plumbing.Hash {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, path), []byte(content), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(path)
	require.NoError(t, err)
	hash, err := wt.Commit(message, &git.CommitOptions{Author: commitSignature()})
	require.NoError(t, err)
	return hash
}

// newGitFlowRepo builds a repository with main and develop both pointing
// at a single initial commit containing shared.txt, HEAD on main.
func newGitFlowRepo(t *testing.T) (*Integration, *git.Repository, string) {
	t.Helper()
	repo, dir := initTestRepo(t)
	writeAndCommit(t, repo, dir, "shared.txt", "base\n", "initial commit")

	head, err := repo.Head()
	require.NoError(t, err)
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(localBranchRef(branchMain), head.Hash())))
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(localBranchRef(branchDevelop), head.Hash())))
	require.NoError(t, repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, localBranchRef(branchMain))))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: localBranchRef(branchMain), Force: true}))

	return FromRepository(repo), repo, dir
}

func TestGetWorkflowStatusClassifiesBranches(t *testing.T) {
	g, _, _ := newGitFlowRepo(t)

	status, err := g.GetWorkflowStatus()
	require.NoError(t, err)
	assert.Equal(t, branchMain, status.CurrentBranch)
	assert.Equal(t, FlowMain, status.BranchType)
	assert.Equal(t, WorkflowGitFlow, status.WorkflowType)

	_, err = g.CreateFeatureBranch("widget", branchDevelop)
	require.NoError(t, err)
	status, err = g.GetWorkflowStatus()
	require.NoError(t, err)
	assert.Equal(t, FlowFeature, status.BranchType)
	assert.Equal(t, "feature/widget", status.CurrentBranch)
}

// Seed scenario 6 (spec §8): feature branch finishes cleanly into develop
// with a two-parent merge commit, and the feature branch is removed.
func TestFinishFeatureBranchNoConflict(t *testing.T) {
	g, repo, dir := newGitFlowRepo(t)

	_, err := g.CreateFeatureBranch("login", branchDevelop)
	require.NoError(t, err)

	current, err := g.GetCurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "feature/login", current)

	writeAndCommit(t, repo, dir, "login.txt", "login feature\n", "add login feature")

	res, err := g.FinishFeatureBranch("login")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "feature/login", res.MergedBranch)
	assert.Equal(t, branchDevelop, res.TargetBranch)
	assert.Empty(t, res.Conflicts)

	_, err = g.branchCommit("feature/login")
	assert.Error(t, err, "feature branch must be deleted after a clean finish")

	developCommit, err := g.branchCommit(branchDevelop)
	require.NoError(t, err)
	assert.Len(t, developCommit.ParentHashes, 2, "finishing a feature branch produces a merge commit")
}

func TestFinishFeatureBranchUnknownBranch(t *testing.T) {
	g, _, _ := newGitFlowRepo(t)
	_, err := g.FinishFeatureBranch("never-created")
	require.Error(t, err)
}

// divergentRepo builds a repo where develop and feature/diverge both
// modify shared.txt differently from their common base.
func divergentRepo(t *testing.T) (*Integration, *git.Repository, string) {
	t.Helper()
	g, repo, dir := newGitFlowRepo(t)

	require.NoError(t, g.checkout(branchDevelop))
	_, err := g.CreateFeatureBranch("diverge", branchDevelop)
	require.NoError(t, err)
	writeAndCommit(t, repo, dir, "shared.txt", "feature version\n", "feature edits shared.txt")

	require.NoError(t, g.checkout(branchDevelop))
	writeAndCommit(t, repo, dir, "shared.txt", "develop version\n", "develop edits shared.txt")

	return g, repo, dir
}

func TestFinishFeatureBranchDetectsConflict(t *testing.T) {
	g, _, _ := divergentRepo(t)

	res, err := g.FinishFeatureBranch("diverge")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Conflicts, "shared.txt")

	pending := g.DetectConflicts()
	require.Len(t, pending, 1)
	assert.Equal(t, "shared.txt", pending[0].FilePath)
	assert.Equal(t, ConflictMerge, pending[0].ConflictType)

	// the feature branch survives an unresolved merge
	_, err = g.branchCommit("feature/diverge")
	assert.NoError(t, err)
}

func TestResolveConflictsAutoIncoming(t *testing.T) {
	g, _, dir := divergentRepo(t)
	_, err := g.FinishFeatureBranch("diverge")
	require.NoError(t, err)
	require.Len(t, g.DetectConflicts(), 1)

	res, err := g.ResolveConflicts(Auto(AutoIncoming))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.ResolvedConflicts, "shared.txt")
	assert.Empty(t, g.DetectConflicts())

	data, err := os.ReadFile(filepath.Join(dir, "shared.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "feature version")
	assert.NotContains(t, string(data), "develop version")
	assert.NotContains(t, string(data), "<<<<<<<")
}

func TestResolveConflictsManualLeavesThemPending(t *testing.T) {
	g, _, _ := divergentRepo(t)
	_, err := g.FinishFeatureBranch("diverge")
	require.NoError(t, err)

	res, err := g.ResolveConflicts(Manual())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.UnresolvedConflicts, 1)
	assert.Len(t, g.DetectConflicts(), 1, "manual resolution does not clear pending conflicts")
}

func TestResolveConflictsAbortResetsWorktree(t *testing.T) {
	g, _, dir := divergentRepo(t)
	_, err := g.FinishFeatureBranch("diverge")
	require.NoError(t, err)

	res, err := g.ResolveConflicts(Abort())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, g.DetectConflicts())

	data, err := os.ReadFile(filepath.Join(dir, "shared.txt"))
	require.NoError(t, err)
	assert.Equal(t, "develop version\n", string(data), "abort resets the worktree to develop's committed HEAD")
}

func TestReleaseBranchLifecycle(t *testing.T) {
	g, repo, dir := newGitFlowRepo(t)

	rb, err := g.StartReleaseBranch("1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "release/1.0.0", rb.Name)
	assert.Equal(t, ReleaseInProgress, rb.Status)

	writeAndCommit(t, repo, dir, "CHANGELOG.md", "1.0.0 release notes\n", "prep release")

	res, err := g.FinishReleaseBranch("1.0.0")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.MainMerge)
	assert.True(t, res.DevelopMerge)
	assert.True(t, res.TagCreated)

	_, err = g.branchCommit("release/1.0.0")
	assert.Error(t, err)

	_, err = repo.Reference(plumbing.NewTagReferenceName("1.0.0"), true)
	assert.NoError(t, err)

	mainCommit, err := g.branchCommit(branchMain)
	require.NoError(t, err)
	assert.Len(t, mainCommit.ParentHashes, 2)
}

func TestHotfixBranchLifecycle(t *testing.T) {
	g, repo, dir := newGitFlowRepo(t)

	hb, err := g.StartHotfixBranch("1.0.1")
	require.NoError(t, err)
	assert.Equal(t, "hotfix/1.0.1", hb.Name)
	assert.Equal(t, HotfixInProgress, hb.Status)

	writeAndCommit(t, repo, dir, "hotfix.txt", "urgent fix\n", "apply hotfix")

	res, err := g.FinishHotfixBranch("1.0.1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.MainMerge)
	assert.True(t, res.DevelopMerge)
	assert.True(t, res.TagCreated)

	_, err = g.branchCommit("hotfix/1.0.1")
	assert.Error(t, err)

	developCommit, err := g.branchCommit(branchDevelop)
	require.NoError(t, err)
	assert.Len(t, developCommit.ParentHashes, 2)
}
