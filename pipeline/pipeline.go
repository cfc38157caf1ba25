package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/petal-labs/digestflow/core"
	"github.com/petal-labs/digestflow/planner"
	"github.com/petal-labs/digestflow/runtime"
	"github.com/petal-labs/digestflow/tool"
)

// EmptyDigest is the artifact returned when a run completes without any
// qualifying newsletters. It is a normal outcome, not an error.
const EmptyDigest = "# Newsletter Digest\n\nNo newsletters found in the analyzed emails."

// DefaultEmailCount is used when a caller does not specify how many emails
// to process.
const DefaultEmailCount = 10

// stateKeys are the fixed keys every run's state starts with.
var stateKeys = []string{keyEmails, keyNewsletters, keySummarized, keyDigest}

// Config wires a Pipeline.
type Config struct {
	// Source is the mailbox the fetch step pulls from.
	Source MailSource

	// Client is the LLM backend used by the planner and by the
	// classify/summarize/render tools.
	Client core.LLMClient

	// Model is the model identifier passed on every LLM call.
	Model string

	// PlannerTimeout bounds a single oracle call (default: planner's).
	PlannerTimeout time.Duration

	// MaxIterations caps planning cycles per run (default: 4 x tools).
	MaxIterations int

	// Events receives loop events, e.g. for tracing handlers.
	Events runtime.EventHandler

	Logger *slog.Logger
}

// Pipeline is the newsletter-digest pipeline. It is safe for concurrent
// runs: the registry and loop are read-only after construction and every
// run owns an independent State.
type Pipeline struct {
	registry      *tool.Registry
	loop          *runtime.Loop
	maxIterations int
	events        runtime.EventHandler
	logger        *slog.Logger
}

// New builds the four-tool registry, the oracle adapter, and the dispatch
// loop.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline: mail source is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("pipeline: LLM client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := tool.NewRegistry(
		NewFetchTool(cfg.Source),
		NewClassifyTool(cfg.Client, cfg.Model),
		NewSummarizeTool(cfg.Client, cfg.Model),
		NewRenderTool(cfg.Client, cfg.Model),
	)
	if err != nil {
		return nil, err
	}

	oracle, err := planner.NewAdapter(planner.AdapterConfig{
		Client:  cfg.Client,
		Model:   cfg.Model,
		Timeout: cfg.PlannerTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	loop, err := runtime.NewLoop(runtime.Config{
		Registry:    registry,
		Oracle:      oracle,
		OutputKey:   keyDigest,
		EmptyOutput: EmptyDigest,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		registry:      registry,
		loop:          loop,
		maxIterations: cfg.MaxIterations,
		events:        cfg.Events,
		logger:        logger,
	}, nil
}

// Registry exposes the tool table for inspection (CLI listing, tests).
func (p *Pipeline) Registry() *tool.Registry {
	return p.registry
}

// Run executes one digest run over emailCount emails and returns the digest
// text: either the render tool's output or EmptyDigest. Fatal errors abort
// the run with no partial digest.
func (p *Pipeline) Run(ctx context.Context, emailCount int) (string, error) {
	if emailCount <= 0 {
		emailCount = DefaultEmailCount
	}

	st := core.NewState(stateKeys, map[string]any{constNumEmails: emailCount})

	result, err := p.loop.Run(ctx, st, runtime.RunOptions{
		MaxIterations: p.maxIterations,
		EventHandler:  p.events,
	})
	if err != nil {
		p.logger.Error("digest run failed",
			"error", err,
			"last_tool", result.LastTool,
			"iterations", result.Iterations)
		return "", err
	}

	p.logger.Info("digest run completed",
		"iterations", result.Iterations,
		"digest_bytes", len(result.Output))
	return result.Output, nil
}
