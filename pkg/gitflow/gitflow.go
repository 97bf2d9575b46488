// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

// Package gitflow implements Git Context Integration (C12, spec §4.8):
// a git-flow branch lifecycle (feature/release/hotfix) plus merge
// conflict detection and marker-based resolution, built on go-git.
package gitflow

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/kadirpekel/coordforge/pkg/coordination"
)

const (
	branchMain    = "main"
	branchDevelop = "develop"
)

func commitSignature() *object.Signature {
	return &object.Signature{
		Name:  "coordforge",
		Email: "coordforge@localhost",
		When:  time.Now(),
	}
}

// FlowBranchType classifies a branch by its role in the git-flow model.
type FlowBranchType string

const (
	FlowMain    FlowBranchType = "main"
	FlowDevelop FlowBranchType = "develop"
	FlowFeature FlowBranchType = "feature"
	FlowRelease FlowBranchType = "release"
	FlowHotfix  FlowBranchType = "hotfix"
)

// WorkflowType names the branching model in use; git-flow is the only
// one this package implements.
type WorkflowType string

const WorkflowGitFlow WorkflowType = "git_flow"

// WorkflowStatus is get_workflow_status's result (spec §4.8).
type WorkflowStatus struct {
	CurrentBranch string
	BranchType    FlowBranchType
	WorkflowType  WorkflowType
	Status        string
}

// FeatureBranch describes a branch created by CreateFeatureBranch.
type FeatureBranch struct {
	Name       string
	BaseBranch string
	CreatedAt  time.Time
}

// FeatureResult is finish_feature_branch's result (spec §4.8, §8 seed
// scenario 6).
type FeatureResult struct {
	Success            bool
	MergedBranch       string
	TargetBranch       string
	Conflicts          []string
	Messages           []string
	ConflictResolution *ConflictResolutionResult
}

// ReleaseStatus tracks a release branch's lifecycle stage.
type ReleaseStatus string

const (
	ReleaseInProgress ReleaseStatus = "in_progress"
	ReleaseFinished   ReleaseStatus = "finished"
)

// ReleaseBranch describes a branch created by StartReleaseBranch.
type ReleaseBranch struct {
	Name      string
	Version   string
	CreatedAt time.Time
	Status    ReleaseStatus
}

// ReleaseResult is finish_release_branch's result (spec §4.8).
type ReleaseResult struct {
	Success            bool
	Version            string
	MainMerge          bool
	DevelopMerge       bool
	TagCreated         bool
	Messages           []string
	ConflictResolution *ConflictResolutionResult
}

// HotfixStatus tracks a hotfix branch's lifecycle stage.
type HotfixStatus string

const (
	HotfixInProgress HotfixStatus = "in_progress"
	HotfixFinished   HotfixStatus = "finished"
)

// HotfixBranch describes a branch created by StartHotfixBranch.
type HotfixBranch struct {
	Name      string
	Version   string
	CreatedAt time.Time
	Status    HotfixStatus
}

// HotfixResult is finish_hotfix_branch's result (spec §4.8).
type HotfixResult struct {
	Success            bool
	Version            string
	MainMerge          bool
	DevelopMerge       bool
	TagCreated         bool
	Messages           []string
	ConflictResolution *ConflictResolutionResult
}

// Integration wraps a git repository and drives the git-flow lifecycle
// over it (spec §4.8 Git Context Integration). Merge attempts that
// surface conflicts leave them recorded on pending, mirroring the
// repository-status scan the original implementation performs against
// libgit2's conflicted index entries.
type Integration struct {
	repo *git.Repository

	mu      sync.Mutex
	pending []ConflictInfo
}

// Open wraps an existing repository at path (spec: "Wraps a Git repository").
func Open(path string) (*Integration, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open repository at %s: %v", coordination.ErrValidation, path, err)
	}
	return &Integration{repo: repo}, nil
}

// FromRepository wraps an already-open go-git repository.
func FromRepository(repo *git.Repository) *Integration {
	return &Integration{repo: repo}
}

func localBranchRef(name string) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(name)
}

func (g *Integration) branchCommit(name string) (*object.Commit, error) {
	ref, err := g.repo.Reference(localBranchRef(name), true)
	if err != nil {
		return nil, fmt.Errorf("%w: branch %q", coordination.ErrNotFound, name)
	}
	return g.repo.CommitObject(ref.Hash())
}

func (g *Integration) checkout(name string) error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Checkout(&git.CheckoutOptions{Branch: localBranchRef(name), Force: true})
}

// GetCurrentBranch returns the short name of the branch HEAD points at.
func (g *Integration) GetCurrentBranch() (string, error) {
	head, err := g.repo.Head()
	if err != nil {
		return "", fmt.Errorf("%w: HEAD: %v", coordination.ErrNotFound, err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("%w: HEAD is detached", coordination.ErrValidation)
	}
	return head.Name().Short(), nil
}

// GetWorkflowStatus classifies the current branch within the git-flow
// model (spec §4.8).
func (g *Integration) GetWorkflowStatus() (WorkflowStatus, error) {
	current, err := g.GetCurrentBranch()
	if err != nil {
		return WorkflowStatus{}, err
	}

	branchType := FlowMain
	switch {
	case current == branchMain:
		branchType = FlowMain
	case current == branchDevelop:
		branchType = FlowDevelop
	case strings.HasPrefix(current, "feature/"):
		branchType = FlowFeature
	case strings.HasPrefix(current, "release/"):
		branchType = FlowRelease
	case strings.HasPrefix(current, "hotfix/"):
		branchType = FlowHotfix
	}

	return WorkflowStatus{
		CurrentBranch: current,
		BranchType:    branchType,
		WorkflowType:  WorkflowGitFlow,
		Status:        "active",
	}, nil
}

// createBranchFrom points a new local branch ref at base's commit and
// checks it out.
func (g *Integration) createBranchFrom(name, base string) error {
	baseCommit, err := g.branchCommit(base)
	if err != nil {
		return fmt.Errorf("base branch %q not found: %w", base, err)
	}
	ref := plumbing.NewHashReference(localBranchRef(name), baseCommit.Hash)
	if err := g.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	return g.checkout(name)
}

func (g *Integration) deleteBranch(name string) error {
	return g.repo.Storer.RemoveReference(localBranchRef(name))
}

// CreateFeatureBranch brances feature/{name} off base and checks it
// out (spec §4.8).
func (g *Integration) CreateFeatureBranch(name, base string) (FeatureBranch, error) {
	branchName := "feature/" + name
	if err := g.createBranchFrom(branchName, base); err != nil {
		return FeatureBranch{}, err
	}
	return FeatureBranch{Name: branchName, BaseBranch: base, CreatedAt: coordination.Now()}, nil
}

// FinishFeatureBranch checks out develop, merges feature/{name} with
// fail_on_conflict=true, and deletes the feature branch on success
// (spec §4.8, §8 seed scenario 6).
func (g *Integration) FinishFeatureBranch(name string) (FeatureResult, error) {
	branchName := "feature/" + name
	featureCommit, err := g.branchCommit(branchName)
	if err != nil {
		return FeatureResult{}, err
	}

	res, conflicts, err := g.mergeInto(branchDevelop, featureCommit, fmt.Sprintf("Merge feature branch '%s'", name))
	if err != nil {
		return FeatureResult{}, err
	}
	if len(conflicts) > 0 {
		return FeatureResult{
			Success:      false,
			MergedBranch: branchName,
			TargetBranch: branchDevelop,
			Conflicts:    conflictPaths(conflicts),
			Messages:     []string{"merge failed: conflicts detected"},
		}, nil
	}
	_ = res

	if err := g.deleteBranch(branchName); err != nil {
		return FeatureResult{}, fmt.Errorf("delete feature branch: %w", err)
	}

	return FeatureResult{
		Success:      true,
		MergedBranch: branchName,
		TargetBranch: branchDevelop,
		Messages:     []string{"Feature branch merged successfully", "Feature branch deleted"},
	}, nil
}

// StartReleaseBranch branches release/{version} off develop (spec §4.8).
func (g *Integration) StartReleaseBranch(version string) (ReleaseBranch, error) {
	branchName := "release/" + version
	if err := g.createBranchFrom(branchName, branchDevelop); err != nil {
		return ReleaseBranch{}, err
	}
	return ReleaseBranch{Name: branchName, Version: version, CreatedAt: coordination.Now(), Status: ReleaseInProgress}, nil
}

// FinishReleaseBranch tags the release commit on main, merges it
// forward into develop, and deletes the release branch (spec §4.8).
func (g *Integration) FinishReleaseBranch(version string) (ReleaseResult, error) {
	branchName := "release/" + version
	releaseCommit, err := g.branchCommit(branchName)
	if err != nil {
		return ReleaseResult{}, err
	}

	if _, err := g.branchCommit(branchMain); err != nil {
		return ReleaseResult{}, fmt.Errorf("main branch not found: %w", err)
	}
	if _, err := g.branchCommit(branchDevelop); err != nil {
		return ReleaseResult{}, fmt.Errorf("develop branch not found: %w", err)
	}

	var messages []string

	mainHash, mainConflicts, err := g.mergeInto(branchMain, releaseCommit, fmt.Sprintf("Merge release branch '%s'", version))
	if err != nil {
		return ReleaseResult{}, err
	}
	if len(mainConflicts) > 0 {
		return ReleaseResult{
			Success: false, Version: version,
			Messages: []string{"merge into main failed: conflicts detected"},
		}, nil
	}
	_ = mainHash

	if err := g.createTag(version, mainHash, fmt.Sprintf("Release version %s", version)); err != nil {
		return ReleaseResult{}, fmt.Errorf("create tag: %w", err)
	}
	messages = append(messages, fmt.Sprintf("Tag %s created", version))

	developHash, developConflicts, err := g.mergeInto(branchDevelop, releaseCommit, fmt.Sprintf("Merge release branch '%s' into develop", version))
	if err != nil {
		return ReleaseResult{}, err
	}
	if len(developConflicts) > 0 {
		return ReleaseResult{
			Success: false, Version: version, MainMerge: true, TagCreated: true,
			Messages: append(messages, "merge into develop failed: conflicts detected"),
		}, nil
	}
	_ = developHash

	if err := g.deleteBranch(branchName); err != nil {
		return ReleaseResult{}, fmt.Errorf("delete release branch: %w", err)
	}
	messages = append(messages, "Release branch deleted")

	return ReleaseResult{
		Success: true, Version: version,
		MainMerge: true, DevelopMerge: true, TagCreated: true,
		Messages: messages,
	}, nil
}

// StartHotfixBranch branches hotfix/{version} off main (spec §4.8).
func (g *Integration) StartHotfixBranch(version string) (HotfixBranch, error) {
	branchName := "hotfix/" + version
	if err := g.createBranchFrom(branchName, branchMain); err != nil {
		return HotfixBranch{}, err
	}
	return HotfixBranch{Name: branchName, Version: version, CreatedAt: coordination.Now(), Status: HotfixInProgress}, nil
}

// FinishHotfixBranch tags the hotfix commit on main, merges it into
// develop, and deletes the hotfix branch (spec §4.8).
func (g *Integration) FinishHotfixBranch(version string) (HotfixResult, error) {
	branchName := "hotfix/" + version
	hotfixCommit, err := g.branchCommit(branchName)
	if err != nil {
		return HotfixResult{}, err
	}

	if _, err := g.branchCommit(branchMain); err != nil {
		return HotfixResult{}, fmt.Errorf("main branch not found: %w", err)
	}
	if _, err := g.branchCommit(branchDevelop); err != nil {
		return HotfixResult{}, fmt.Errorf("develop branch not found: %w", err)
	}

	var messages []string

	mainHash, mainConflicts, err := g.mergeInto(branchMain, hotfixCommit, fmt.Sprintf("Merge hotfix branch '%s'", version))
	if err != nil {
		return HotfixResult{}, err
	}
	if len(mainConflicts) > 0 {
		return HotfixResult{
			Success: false, Version: version,
			Messages: []string{"merge into main failed: conflicts detected"},
		}, nil
	}
	_ = mainHash

	if err := g.createTag(version, mainHash, fmt.Sprintf("Hotfix version %s", version)); err != nil {
		return HotfixResult{}, fmt.Errorf("create tag: %w", err)
	}
	messages = append(messages, fmt.Sprintf("Hotfix tag %s created", version))

	developHash, developConflicts, err := g.mergeInto(branchDevelop, hotfixCommit, fmt.Sprintf("Merge hotfix branch '%s' into develop", version))
	if err != nil {
		return HotfixResult{}, err
	}
	if len(developConflicts) > 0 {
		return HotfixResult{
			Success: false, Version: version, MainMerge: true, TagCreated: true,
			Messages: append(messages, "merge into develop failed: conflicts detected"),
		}, nil
	}
	_ = developHash

	if err := g.deleteBranch(branchName); err != nil {
		return HotfixResult{}, fmt.Errorf("delete hotfix branch: %w", err)
	}
	messages = append(messages, "Hotfix branch deleted")

	return HotfixResult{
		Success: true, Version: version,
		MainMerge: true, DevelopMerge: true, TagCreated: true,
		Messages: messages,
	}, nil
}

func (g *Integration) createTag(version string, commit plumbing.Hash, message string) error {
	_, err := g.repo.CreateTag(version, commit, &git.CreateTagOptions{
		Tagger:  commitSignature(),
		Message: message,
	})
	return err
}

func conflictPaths(conflicts []ConflictInfo) []string {
	out := make([]string, len(conflicts))
	for i, c := range conflicts {
		out[i] = c.FilePath
	}
	return out
}
