package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/digestflow/core"
	"github.com/petal-labs/digestflow/planner"
	"github.com/petal-labs/digestflow/tool"
)

// Loop errors.
var (
	// ErrRunawayPlanning trips when the oracle never signals completion
	// within the configured iteration cap.
	ErrRunawayPlanning = errors.New("planning iteration cap exceeded")

	// ErrRunCanceled is returned when the caller cancels an in-flight run.
	ErrRunCanceled = errors.New("run was canceled")

	// ErrToolExecution wraps a tool-raised failure. Tool failures are
	// fatal to the run; only oracle calls get an internal retry.
	ErrToolExecution = errors.New("tool execution failed")
)

// Phase identifies a state of the dispatch state machine.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseValidating Phase = "validating"
	PhaseExecuting  Phase = "executing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Oracle is the loop's view of the planning boundary. It must not mutate
// state: it receives a detached snapshot plus the registry's redacted
// descriptions, and returns the oracle's raw response text.
type Oracle interface {
	Plan(ctx context.Context, snapshot map[string]any, tools map[string]tool.Description) (string, error)
}

// Config wires a Loop.
type Config struct {
	Registry *tool.Registry
	Oracle   Oracle

	// OutputKey is the state key holding the final artifact (default
	// "digest").
	OutputKey string

	// EmptyOutput is returned when the oracle declares completion but the
	// output key holds no non-empty string. It is a normal outcome, not
	// an error.
	EmptyOutput string

	Logger *slog.Logger
}

// RunOptions controls a single run.
type RunOptions struct {
	// MaxIterations bounds the number of planning/executing cycles
	// (default: 4 x registry size). The oracle is not guaranteed to ever
	// emit completion, so the cap is a correctness requirement.
	MaxIterations int

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time

	// EventHandler receives events during execution.
	EventHandler EventHandler
}

// RunResult carries the outcome of a run plus the diagnostic context fatal
// errors are reported with.
type RunResult struct {
	Output      string
	Phase       Phase
	Iterations  int
	LastTool    string
	LastRawPlan string
}

// Loop is the top-level dispatch state machine. A Loop is stateless across
// runs and safe for concurrent use; each run owns an independent State.
type Loop struct {
	registry   *tool.Registry
	oracle     Oracle
	normalizer planner.Normalizer
	outputKey  string
	emptyOut   string
	logger     *slog.Logger
}

// NewLoop creates a dispatch loop.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Registry == nil {
		return nil, errors.New("runtime: registry is required")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("runtime: oracle is required")
	}
	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = "digest"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		registry:   cfg.Registry,
		oracle:     cfg.Oracle,
		normalizer: planner.Normalizer{FallbackTool: cfg.Registry.First()},
		outputKey:  outputKey,
		emptyOut:   cfg.EmptyOutput,
		logger:     logger,
	}, nil
}

// Run drives the state machine over st until the oracle declares completion,
// a fatal error occurs, or the iteration cap trips. Execution is strictly
// sequential: at most one oracle or tool call is in flight, and no step
// begins before the previous step's state writes are committed.
func (l *Loop) Run(ctx context.Context, st *core.State, opts RunOptions) (RunResult, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 4 * l.registry.Len()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	runID := uuid.NewString()
	runStart := opts.Now()
	seq := &seqGen{}
	emit := func(e Event) {
		e.Seq = seq.Next()
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
	}

	emit(NewEvent(EventRunStarted, runID).
		WithPayload("max_iterations", opts.MaxIterations).
		WithPayload("tools", l.registry.Names()))

	result, err := l.execute(ctx, st, opts, runID, emit, runStart)

	finish := NewEvent(EventRunFinished, runID).
		WithElapsed(opts.Now().Sub(runStart)).
		WithPayload("iterations", result.Iterations)
	if err != nil {
		finish = finish.WithPayload("status", "failed").WithPayload("error", err.Error())
	} else {
		finish = finish.WithPayload("status", "completed")
	}
	emit(finish)

	return result, err
}

func (l *Loop) execute(
	ctx context.Context,
	st *core.State,
	opts RunOptions,
	runID string,
	emit EventHandler,
	runStart time.Time,
) (RunResult, error) {
	result := RunResult{Phase: PhasePlanning}

	for iteration := 1; ; iteration++ {
		if iteration > opts.MaxIterations {
			result.Phase = PhaseFailed
			return result, fmt.Errorf("%w: %d iterations without completion (last tool %q)",
				ErrRunawayPlanning, opts.MaxIterations, result.LastTool)
		}

		// PLANNING: consult the oracle with a detached snapshot.
		result.Phase = PhasePlanning
		if err := ctx.Err(); err != nil {
			result.Phase = PhaseFailed
			return result, fmt.Errorf("%w: %v", ErrRunCanceled, err)
		}

		emit(NewEvent(EventPlanStarted, runID).
			WithElapsed(opts.Now().Sub(runStart)).
			WithPayload("iteration", iteration))

		raw, planErr := l.oracle.Plan(ctx, st.Snapshot(), l.registry.Describe())
		if planErr != nil && ctx.Err() != nil {
			result.Phase = PhaseFailed
			return result, fmt.Errorf("%w: %v", ErrRunCanceled, ctx.Err())
		}
		result.LastRawPlan = raw

		// VALIDATING: normalize raw text into a well-formed plan.
		// Transport and parse failures degrade to the deterministic
		// fallback; they never abort the run by themselves.
		result.Phase = PhaseValidating
		var plan planner.Plan
		if planErr != nil {
			plan = l.normalizer.Fallback(planErr.Error())
		} else {
			plan = l.normalizer.Normalize(raw)
		}

		decided := NewEvent(EventPlanDecided, runID).
			WithTool(plan.Tool).
			WithElapsed(opts.Now().Sub(runStart)).
			WithPayload("reason", plan.Reason).
			WithPayload("is_complete", plan.IsComplete)
		if planErr != nil {
			decided = decided.WithPayload("fallback", true)
		}
		emit(decided)

		if plan.IsComplete {
			result.Phase = PhaseDone
			result.Iterations = iteration - 1
			result.Output = st.GetString(l.outputKey)
			if result.Output == "" {
				result.Output = l.emptyOut
			}
			return result, nil
		}

		manifest, run, err := l.registry.Lookup(plan.Tool)
		if err != nil {
			result.Phase = PhaseFailed
			result.Iterations = iteration - 1
			return result, fmt.Errorf("oracle selected %q: %w", plan.Tool, err)
		}

		// EXECUTING: bind, invoke, commit writes.
		result.Phase = PhaseExecuting
		result.LastTool = plan.Tool
		result.Iterations = iteration

		args, err := tool.Bind(manifest, st)
		if err != nil {
			result.Phase = PhaseFailed
			return result, err
		}

		toolStart := opts.Now()
		emit(NewEvent(EventToolStarted, runID).
			WithTool(plan.Tool).
			WithElapsed(toolStart.Sub(runStart)))

		output, err := run(ctx, args)
		if err != nil {
			emit(NewEvent(EventToolFailed, runID).
				WithTool(plan.Tool).
				WithElapsed(opts.Now().Sub(runStart)).
				WithPayload("error", err.Error()))
			result.Phase = PhaseFailed
			if ctx.Err() != nil {
				return result, fmt.Errorf("%w: %v", ErrRunCanceled, ctx.Err())
			}
			return result, fmt.Errorf("%w: %s: %v", ErrToolExecution, plan.Tool, err)
		}

		// Writes are applied only after the tool returns: a failed or
		// canceled invocation leaves state untouched.
		st.ApplyWrites(manifest.State.Writes, output)

		emit(NewEvent(EventToolFinished, runID).
			WithTool(plan.Tool).
			WithElapsed(opts.Now().Sub(runStart)).
			WithPayload("writes", manifest.State.Writes))

		l.logger.Debug("tool step completed",
			"run_id", runID,
			"tool", plan.Tool,
			"iteration", iteration)
	}
}
