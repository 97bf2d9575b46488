// Package coordforge is a multi-agent coordination substrate for
// collaborative software-engineering agents operating over a shared
// repository of structured context (knowledge, decisions, tasks,
// patterns, dependencies). It provides the runtime machinery that lets
// many agents act concurrently without corrupting shared state:
// conflict detection and resolution, coordination-pattern execution
// with checkpointed recovery, semantic dependency graphs with
// health/impact analysis, and Git-flow integration that merges both
// code and agent-maintained context.
//
// # Core subsystems
//
//   - Coordination Pattern Engine (pkg/pattern) — registers, validates,
//     executes, monitors, and recovers named multi-agent coordination
//     patterns against a shared PatternContext.
//   - Conflict Resolver (pkg/conflict) — detects divergence between
//     local and remote state and applies a resolution strategy, with
//     audit history and statistics.
//   - Dependency Graph & Analysis (pkg/depgraph, pkg/impact) — an
//     acyclic directed graph of semantic dependencies with health
//     propagation, impact/risk scoring, and predictive analytics.
//   - Git-Flow Context Integration (pkg/gitflow) — drives feature,
//     release, and hotfix branch lifecycles and resolves context-file
//     merge conflicts.
//
// # Quick start
//
//	import "github.com/kadirpekel/coordforge"
//
//	cfg, _, err := config.LoadConfigFile(ctx, "coordforge.yaml")
//	engine, err := coordforge.NewEngine(ctx, cfg)
//
//	engine.Patterns.Register(myPattern)
//	result, err := engine.Executor.Execute(ctx, patternID, patternCtx)
//
// coordforge is transport-agnostic: this module defines the
// coordination engine only. Agent implementations, the action/intent
// schema and ML-prediction engines, file-format parsing, CLI surfaces,
// and gRPC/HTTP/WebSocket transport are deliberately out of scope — see
// SPEC_FULL.md for the full boundary.
//
// # License
//
// AGPL-3.0 (SPDX-License-Identifier: AGPL-3.0).
package coordforge
