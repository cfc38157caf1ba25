package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petal-labs/digestflow/core"
	"github.com/petal-labs/digestflow/tool"
)

// ErrTransport wraps oracle transport failures: network errors, timeouts,
// or a response with no usable payload. The dispatch loop converts it into
// the deterministic fallback plan rather than failing the run.
var ErrTransport = errors.New("oracle transport failure")

const (
	// DefaultTimeout bounds a single oracle call. Remote text-generation
	// calls are unbounded without one.
	DefaultTimeout = 60 * time.Second

	// defaultRetries is the bounded internal retry count. Repeated
	// failures surface to the loop, which owns the termination guard.
	defaultRetries = 1
)

// Adapter is the boundary call to the external reasoning oracle. It never
// mutates state: it sees only a snapshot.
type Adapter struct {
	client  core.LLMClient
	model   string
	timeout time.Duration
	retries int
	logger  *slog.Logger
}

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	Client  core.LLMClient
	Model   string
	Timeout time.Duration // 0 means DefaultTimeout
	Logger  *slog.Logger
}

// NewAdapter creates an oracle adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.Client == nil {
		return nil, errors.New("planner: LLM client is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:  cfg.Client,
		model:   cfg.Model,
		timeout: timeout,
		retries: defaultRetries,
		logger:  logger,
	}, nil
}

// Plan asks the oracle for the next step given the state snapshot and the
// registry's redacted tool descriptions, returning the raw response text.
// On transport failure it retries once; after that it returns ErrTransport
// and the caller falls back deterministically.
func (a *Adapter) Plan(ctx context.Context, snapshot map[string]any, tools map[string]tool.Description) (string, error) {
	prompt, err := buildPrompt(snapshot, tools)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	req := core.LLMRequest{
		Model:     a.model,
		System:    planningSystem,
		InputText: prompt,
	}

	var lastErr error
	for attempt := 0; attempt <= a.retries; attempt++ {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		resp, err := a.client.Complete(callCtx, req)
		cancel()

		if err == nil && resp.Text != "" {
			return resp.Text, nil
		}
		if err == nil {
			err = errors.New("empty completion")
		}
		lastErr = err
		a.logger.Warn("oracle call failed",
			"attempt", attempt+1,
			"error", err)
	}

	return "", fmt.Errorf("%w: %v", ErrTransport, lastErr)
}
