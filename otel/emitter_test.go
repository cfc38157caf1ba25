package otel_test

import (
	"testing"
	"time"

	flowotel "github.com/petal-labs/digestflow/otel"
	"github.com/petal-labs/digestflow/runtime"
)

func TestEnrichHandler_StampsTraceContext(t *testing.T) {
	_, tp := newTestTracer()
	tracer := tp.Tracer("test")
	tracing := flowotel.NewTracingHandler(tracer)

	now := time.Now()
	tracing.Handle(runtime.Event{
		Kind:  runtime.EventRunStarted,
		RunID: "run-1",
		Time:  now,
	})

	var captured runtime.Event
	h := flowotel.EnrichHandler(func(e runtime.Event) { captured = e }, tracing)

	h(runtime.Event{
		Kind:  runtime.EventToolStarted,
		RunID: "run-1",
		Tool:  "fetch_emails",
		Time:  now.Add(5 * time.Millisecond),
	})

	wantSC := tracing.ActiveRunSpanContext("run-1")
	if captured.Payload["trace_id"] != wantSC.TraceID().String() {
		t.Errorf("trace_id = %v, want %s", captured.Payload["trace_id"], wantSC.TraceID())
	}
	if captured.Payload["span_id"] != wantSC.SpanID().String() {
		t.Errorf("span_id = %v, want %s", captured.Payload["span_id"], wantSC.SpanID())
	}
}

func TestEnrichHandler_PassthroughWithoutActiveSpan(t *testing.T) {
	_, tp := newTestTracer()
	tracing := flowotel.NewTracingHandler(tp.Tracer("test"))

	var captured runtime.Event
	h := flowotel.EnrichHandler(func(e runtime.Event) { captured = e }, tracing)

	h(runtime.Event{
		Kind:  runtime.EventToolStarted,
		RunID: "unknown-run",
		Tool:  "fetch_emails",
		Time:  time.Now(),
	})

	if _, found := captured.Payload["trace_id"]; found {
		t.Error("expected no trace_id without an active run span")
	}
}

func TestFanout_ForwardsToAllHandlers(t *testing.T) {
	var first, second []runtime.EventKind
	h := flowotel.Fanout(
		func(e runtime.Event) { first = append(first, e.Kind) },
		nil,
		func(e runtime.Event) { second = append(second, e.Kind) },
	)

	h(runtime.Event{Kind: runtime.EventRunStarted, RunID: "r1"})
	h(runtime.Event{Kind: runtime.EventRunFinished, RunID: "r1"})

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("handler call counts = %d, %d, want 2 each", len(first), len(second))
	}
	if first[0] != runtime.EventRunStarted || second[1] != runtime.EventRunFinished {
		t.Errorf("unexpected event order: %v / %v", first, second)
	}
}
