package coordforge

import (
	"context"
	"fmt"
	"os"

	"github.com/kadirpekel/coordforge/pkg/checkpoint"
	"github.com/kadirpekel/coordforge/pkg/config"
	"github.com/kadirpekel/coordforge/pkg/conflict"
	"github.com/kadirpekel/coordforge/pkg/coordination"
	"github.com/kadirpekel/coordforge/pkg/depgraph"
	"github.com/kadirpekel/coordforge/pkg/gitflow"
	"github.com/kadirpekel/coordforge/pkg/impact"
	"github.com/kadirpekel/coordforge/pkg/logger"
	"github.com/kadirpekel/coordforge/pkg/observability"
	"github.com/kadirpekel/coordforge/pkg/pattern"
	"github.com/kadirpekel/coordforge/pkg/ratelimit"
	"github.com/kadirpekel/coordforge/pkg/validation"
)

// Engine composes the four core subsystems (spec §2) into a single
// wiring root: Pattern Registry/Executor, Checkpoint & Recovery,
// Conflict Resolver, and Dependency Graph & Analysis. A Git-flow
// Integration is opened separately via OpenGitflow since it binds to a
// specific repository path.
//
// Engine itself holds no business logic; every method it exposes
// delegates to the subsystem that owns the behavior. Callers that only
// need one subsystem can construct it directly from its package instead
// of going through Engine.
type Engine struct {
	Agents    *coordination.AgentRegistry
	Resources *coordination.ResourcePool

	Patterns  *pattern.Registry
	Validator *validation.Engine
	Executor  *pattern.Executor

	Checkpoints *checkpoint.Manager
	Recovery    *checkpoint.RecoveryManager

	Conflicts *conflict.Resolver

	Dependencies *depgraph.Graph
	Impact       *impact.Analysis
	Predictive   *impact.Predictive

	Observability *observability.Manager

	cfg        *config.Config
	dbPool     *config.DBPool
	logCleanup func()
}

// EngineOption configures optional engine wiring.
type EngineOption func(*engineOptions)

type engineOptions struct {
	observability *observability.Config
}

// WithObservability attaches a tracing/metrics configuration to the
// engine. Without it the engine runs with a no-op observability manager,
// so callers never need a nil check.
func WithObservability(cfg *observability.Config) EngineOption {
	return func(o *engineOptions) { o.observability = cfg }
}

// NewEngine wires every core subsystem from a loaded Config (spec §6
// Configuration).
func NewEngine(ctx context.Context, cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	level, _ := logger.ParseLevel(cfg.Logger.Level)
	logOutput := os.Stderr
	var logCleanup func()
	if cfg.Logger.File != "" {
		file, cleanup, err := logger.OpenLogFile(cfg.Logger.File)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logOutput = file
		logCleanup = cleanup
	}
	logger.Init(level, logOutput, cfg.Logger.Format)

	obs, err := observability.NewFromConfig(ctx, o.observability)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}

	patterns := pattern.NewRegistry()
	validator := validation.NewEngine()

	// A configured database section turns on the durable tier: the
	// checkpoint store mirrors writes to SQL, and a "sql" rate limit
	// backend shares the same pool.
	var dbPool *config.DBPool
	cpStore := checkpoint.NewStore()
	if cfg.Database.Driver != "" {
		dbPool = config.NewDBPool()
		db, err := dbPool.Get(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		cpStore, err = checkpoint.NewDurableStore(db, cfg.Database.Dialect())
		if err != nil {
			return nil, fmt.Errorf("durable checkpoint store: %w", err)
		}
	}

	checkpoints := checkpoint.NewManager(cpStore, cfg.Checkpoint)
	recovery := checkpoint.NewRecoveryManager(cpStore, validator)

	executor := pattern.NewExecutor(patterns, validator, checkpoints)
	if obs.MetricsEnabled() {
		executor = executor.WithMonitor(obs.Metrics())
	}
	recovery = recovery.WithExecutor(executor)

	var limiter ratelimit.RateLimiter
	if cfg.RateLimit.Backend == "sql" {
		limiter, err = ratelimit.NewRateLimiterFromConfig(cfg, dbPool)
	} else {
		limiter, err = ratelimit.NewRateLimiterFromConfigWithStore(&cfg.RateLimit, ratelimit.NewMemoryStore())
	}
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if limiter != nil {
		scope := ratelimit.ScopeFromConfig(&cfg.RateLimit)
		executor = executor.WithAdmissionController(ratelimit.NewAdmissionController(limiter, scope))
	}

	return &Engine{
		Agents:    coordination.NewAgentRegistry(),
		Resources: coordination.NewResourcePool(0, 0, 0),

		Patterns:  patterns,
		Validator: validator,
		Executor:  executor,

		Checkpoints: checkpoints,
		Recovery:    recovery,

		Conflicts: conflict.NewResolver(conflict.Strategy(cfg.Conflict.Strategy)),

		Dependencies: depgraph.New(),
		Impact:       impact.New(cfg.Impact),
		Predictive:   impact.NewPredictive(cfg.Predictive),

		Observability: obs,

		cfg:        cfg,
		dbPool:     dbPool,
		logCleanup: logCleanup,
	}, nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// OpenGitflow wraps an existing Git repository at path with the Git-Flow
// Context Integration (C12). It is independent of the rest of Engine's
// wiring since it owns no shared state with the other subsystems beyond
// the Conflict Resolver it may consult for context-file merges.
func OpenGitflow(path string) (*gitflow.Integration, error) {
	return gitflow.Open(path)
}

// Close releases resources held by the engine (tracer/meter providers,
// database connections, log file handle).
func (e *Engine) Close(ctx context.Context) error {
	var err error
	if e.Observability != nil {
		err = e.Observability.Shutdown(ctx)
	}
	if e.dbPool != nil {
		if cerr := e.dbPool.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if e.logCleanup != nil {
		e.logCleanup()
	}
	return err
}
