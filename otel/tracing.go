// Package otel provides OpenTelemetry integration for dispatch loop events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/digestflow/runtime"
)

// TracingHandler translates dispatch loop events into OpenTelemetry spans:
// a root span per run and a child span per tool invocation. The loop is
// strictly sequential, so at most one tool span is active per run.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span      // runID -> span
	runCtxs   map[string]context.Context // runID -> context (for child spans)
	toolSpans map[string]trace.Span      // runID -> active tool span
}

// NewTracingHandler creates a TracingHandler that uses the given tracer to
// create spans from loop events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		toolSpans: make(map[string]trace.Span),
	}
}

// Handle processes a loop event and creates or ends spans accordingly.
// It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.handleRunStarted(e)
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

// handleRunStarted creates a root span for the run.
func (h *TracingHandler) handleRunStarted(e runtime.Event) {
	ctx, span := h.tracer.Start(context.Background(), "digest.run",
		trace.WithAttributes(
			attribute.String("digestflow.run_id", e.RunID),
		),
		trace.WithTimestamp(e.Time),
	)

	if limit, ok := e.Payload["max_iterations"].(int); ok {
		span.SetAttributes(attribute.Int("digestflow.max_iterations", limit))
	}

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

// handlePlanDecided records the oracle's decision as an event on the run span.
func (h *TracingHandler) handlePlanDecided(e runtime.Event) {
	h.mu.RLock()
	span, ok := h.runSpans[e.RunID]
	h.mu.RUnlock()

	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("digestflow.tool", e.Tool),
	}
	if reason, found := e.Payload["reason"].(string); found {
		attrs = append(attrs, attribute.String("digestflow.reason", reason))
	}
	if complete, found := e.Payload["is_complete"].(bool); found {
		attrs = append(attrs, attribute.Bool("digestflow.is_complete", complete))
	}
	if fallback, found := e.Payload["fallback"].(bool); found {
		attrs = append(attrs, attribute.Bool("digestflow.fallback", fallback))
	}

	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// handleToolStarted creates a child span under the run span.
func (h *TracingHandler) handleToolStarted(e runtime.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()

	if !ok {
		// No parent run span; start from background context.
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "tool:"+e.Tool,
		trace.WithAttributes(
			attribute.String("digestflow.run_id", e.RunID),
			attribute.String("digestflow.tool", e.Tool),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.toolSpans[e.RunID] = span
	h.mu.Unlock()
}

// handleToolFinished ends the tool span with success status.
func (h *TracingHandler) handleToolFinished(e runtime.Event) {
	span, ok := h.takeToolSpan(e.RunID)
	if !ok {
		return
	}
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

// handleToolFailed ends the tool span with error status.
func (h *TracingHandler) handleToolFailed(e runtime.Event) {
	span, ok := h.takeToolSpan(e.RunID)
	if !ok {
		return
	}

	errMsg := "unknown error"
	if msg, found := e.Payload["error"].(string); found {
		errMsg = msg
	}
	span.SetStatus(codes.Error, errMsg)
	span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	span.End(trace.WithTimestamp(e.Time))
}

// handleRunFinished ends the root run span.
func (h *TracingHandler) handleRunFinished(e runtime.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
		delete(h.toolSpans, e.RunID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	status, _ := e.Payload["status"].(string)
	span.SetAttributes(
		attribute.String("digestflow.duration", e.Elapsed.String()),
		attribute.String("digestflow.status", status),
	)
	if iterations, found := e.Payload["iterations"].(int); found {
		span.SetAttributes(attribute.Int("digestflow.iterations", iterations))
	}

	if status == "failed" {
		errMsg := "run failed"
		if msg, found := e.Payload["error"].(string); found {
			errMsg = msg
		}
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End(trace.WithTimestamp(e.Time))
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func (h *TracingHandler) takeToolSpan(runID string) (trace.Span, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	span, ok := h.toolSpans[runID]
	if ok {
		delete(h.toolSpans, runID)
	}
	return span, ok
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
