package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/digestflow/runtime"
)

// MetricsHandler translates dispatch loop events into OpenTelemetry metrics.
// It records counters and histograms for tool invocations, plan fallbacks,
// and run durations.
type MetricsHandler struct {
	toolExecutions metric.Int64Counter
	toolFailures   metric.Int64Counter
	planFallbacks  metric.Int64Counter
	toolDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram

	mu         sync.Mutex
	toolStarts map[string]time.Time // runID -> active tool start
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording loop metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	toolExec, err := meter.Int64Counter("digestflow.tool.executions",
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}

	toolFail, err := meter.Int64Counter("digestflow.tool.failures",
		metric.WithDescription("Number of tool invocation failures"),
	)
	if err != nil {
		return nil, err
	}

	planFall, err := meter.Int64Counter("digestflow.plan.fallbacks",
		metric.WithDescription("Number of plans degraded to the deterministic fallback"),
	)
	if err != nil {
		return nil, err
	}

	toolDur, err := meter.Float64Histogram("digestflow.tool.duration",
		metric.WithDescription("Duration of tool invocation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("digestflow.run.duration",
		metric.WithDescription("Duration of digest run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		toolExecutions: toolExec,
		toolFailures:   toolFail,
		planFallbacks:  planFall,
		toolDuration:   toolDur,
		runDuration:    runDur,
		toolStarts:     make(map[string]time.Time),
	}, nil
}

// Handle processes a loop event and records the appropriate metrics.
// It implements runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventPlanDecided:
		h.handlePlanDecided(e)
	case runtime.EventToolStarted:
		h.handleToolStarted(e)
	case runtime.EventToolFinished:
		h.handleToolFinished(e)
	case runtime.EventToolFailed:
		h.handleToolFailed(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

// handlePlanDecided counts plans that degraded to the fallback tool.
func (h *MetricsHandler) handlePlanDecided(e runtime.Event) {
	if fallback, ok := e.Payload["fallback"].(bool); !ok || !fallback {
		return
	}
	h.planFallbacks.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("tool", e.Tool),
	))
}

// handleToolStarted remembers when the invocation began.
func (h *MetricsHandler) handleToolStarted(e runtime.Event) {
	h.mu.Lock()
	h.toolStarts[e.RunID] = e.Time
	h.mu.Unlock()
}

// handleToolFinished increments the execution counter and records duration.
func (h *MetricsHandler) handleToolFinished(e runtime.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("tool", e.Tool))
	h.toolExecutions.Add(ctx, 1, attrs)
	if start, ok := h.takeToolStart(e.RunID); ok {
		h.toolDuration.Record(ctx, e.Time.Sub(start).Seconds(), attrs)
	}
}

// handleToolFailed increments both the execution and failure counters.
func (h *MetricsHandler) handleToolFailed(e runtime.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("tool", e.Tool))
	h.toolExecutions.Add(ctx, 1, attrs)
	h.toolFailures.Add(ctx, 1, attrs)
	h.takeToolStart(e.RunID)
}

// handleRunFinished records the run duration.
func (h *MetricsHandler) handleRunFinished(e runtime.Event) {
	status, _ := e.Payload["status"].(string)
	h.runDuration.Record(context.Background(), e.Elapsed.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
	))

	h.mu.Lock()
	delete(h.toolStarts, e.RunID)
	h.mu.Unlock()
}

func (h *MetricsHandler) takeToolStart(runID string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	start, ok := h.toolStarts[runID]
	if ok {
		delete(h.toolStarts, runID)
	}
	return start, ok
}
