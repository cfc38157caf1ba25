package otel

import (
	"github.com/petal-labs/digestflow/runtime"
)

// EnrichHandler wraps an EventHandler with OpenTelemetry trace context.
// Before passing an event on, it looks up the active run span from the
// TracingHandler and stamps trace_id and span_id into the event payload so
// downstream consumers (run stores, log sinks) can correlate with traces.
// When no span is active, the event passes through unchanged.
func EnrichHandler(next runtime.EventHandler, tracing *TracingHandler) runtime.EventHandler {
	return func(e runtime.Event) {
		if e.RunID != "" {
			sc := tracing.ActiveRunSpanContext(e.RunID)
			if sc.IsValid() {
				e = e.WithPayload("trace_id", sc.TraceID().String()).
					WithPayload("span_id", sc.SpanID().String())
			}
		}
		next(e)
	}
}

// Fanout returns an EventHandler that forwards each event to every given
// handler in order. Nil handlers are skipped.
func Fanout(handlers ...runtime.EventHandler) runtime.EventHandler {
	return func(e runtime.Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}
