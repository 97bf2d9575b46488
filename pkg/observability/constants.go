package observability

// Attribute and span names used across the Pattern Executor, Checkpoint
// & Recovery, Conflict Resolver, and Dependency Graph instrumentation.
const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"

	AttrPatternID    = "pattern.id"
	AttrPatternPhase = "pattern.phase"
	AttrAgentID      = "agent.id"
	AttrCheckpointID = "checkpoint.id"
	AttrConflictID   = "conflict.id"
	AttrConflictType = "conflict.type"
	AttrStrategy     = "strategy"
	AttrDependencyID = "dependency.id"
	AttrErrorType    = "error.type"
	AttrEventID      = "coordforge.event_id"

	SpanPatternExecution = "pattern.execute"
	SpanCheckpoint       = "checkpoint.create"
	SpanRecovery         = "checkpoint.recover"
	SpanConflictResolve  = "conflict.resolve"
	SpanDependencyImpact = "dependency.impact_analysis"

	DefaultServiceName  = "coordforge"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
