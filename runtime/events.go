// Package runtime provides the dispatch loop driving an LLM-planned
// pipeline: a sequential state machine that consults the planning oracle,
// validates its decision, binds parameters, and executes tools until the
// oracle declares completion or a guard trips.
package runtime

import (
	"sync/atomic"
	"time"
)

// EventKind identifies the type of event emitted by the loop.
type EventKind string

const (
	// EventRunStarted is emitted when a pipeline run begins.
	EventRunStarted EventKind = "run.started"

	// EventPlanStarted is emitted before each oracle consultation.
	EventPlanStarted EventKind = "plan.started"

	// EventPlanDecided is emitted once the oracle's raw output has been
	// normalized into a plan (including fallback plans).
	EventPlanDecided EventKind = "plan.decided"

	// EventToolStarted is emitted when a tool invocation begins.
	EventToolStarted EventKind = "tool.started"

	// EventToolFinished is emitted when a tool invocation completes and
	// its writes have been applied to state.
	EventToolFinished EventKind = "tool.finished"

	// EventToolFailed is emitted when a tool invocation errors.
	EventToolFailed EventKind = "tool.failed"

	// EventRunFinished is emitted when a pipeline run completes.
	EventRunFinished EventKind = "run.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a single observation from the dispatch loop.
type Event struct {
	Seq     uint64         `json:"seq"`
	Kind    EventKind      `json:"kind"`
	RunID   string         `json:"run_id"`
	Tool    string         `json:"tool,omitempty"`
	Time    time.Time      `json:"time"`
	Elapsed time.Duration  `json:"elapsed"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EventHandler receives events during execution.
type EventHandler func(Event)

// NewEvent creates an event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithTool returns the event with the tool name set.
func (e Event) WithTool(name string) Event {
	e.Tool = name
	return e
}

// WithElapsed returns the event with elapsed-since-run-start set.
func (e Event) WithElapsed(d time.Duration) Event {
	e.Elapsed = d
	return e
}

// WithPayload returns the event with a payload entry added.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// seqGen produces monotonically increasing sequence numbers for a single run.
type seqGen struct {
	counter atomic.Uint64
}

// Next returns the next sequence number (1-indexed).
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}
