// Package planner owns the boundary to the external reasoning oracle: prompt
// assembly, the adapter that calls the LLM with a timeout and bounded retry,
// and the normalizer that turns the oracle's schema-fuzzy raw text into a
// validated Plan. Every oracle response is treated as adversarial input: no
// field is trusted before schema validation.
package planner

// Plan is the normalized decision for one loop iteration: the next tool to
// invoke (empty when the oracle returned null), the oracle's rationale, and
// whether the overall goal has been achieved. When IsComplete is true the
// loop ignores Tool and the iteration ends.
type Plan struct {
	Tool       string `json:"tool"`
	Reason     string `json:"reason"`
	IsComplete bool   `json:"isComplete"`
}
