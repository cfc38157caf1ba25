package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// trailingCommaRE matches a comma followed only by whitespace and a closing
// bracket or brace, a formatting slip some models produce.
var trailingCommaRE = regexp.MustCompile(`,(\s*[}\]])`)

// Normalizer validates raw oracle output into a Plan. Parsing and validation
// failures never escape to the caller: they degrade to a deterministic
// fallback plan selecting FallbackTool, at the cost of potentially replaying
// a step.
type Normalizer struct {
	// FallbackTool is the tool selected when the oracle's output is
	// unusable; by convention the pipeline's data-acquisition step.
	FallbackTool string
}

// Normalize cleans, parses, and validates rawText. The returned Plan is
// always well-formed.
func (n Normalizer) Normalize(rawText string) Plan {
	plan, err := parsePlan(rawText)
	if err != nil {
		return n.Fallback(err.Error())
	}
	return plan
}

// Fallback returns the deterministic fallback plan with the given cause as
// its reason.
func (n Normalizer) Fallback(cause string) Plan {
	return Plan{
		Tool:       n.FallbackTool,
		Reason:     fmt.Sprintf("falling back to %s: %s", n.FallbackTool, cause),
		IsComplete: false,
	}
}

// parsePlan applies the cleanup steps in order and validates the decoded
// object against the three-field plan schema.
func parsePlan(rawText string) (Plan, error) {
	cleaned := cleanResponse(rawText)
	if cleaned == "" {
		return Plan{}, errors.New("empty oracle response")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return Plan{}, fmt.Errorf("oracle response is not a JSON object: %w", err)
	}

	toolRaw, ok := fields["tool"]
	if !ok {
		return Plan{}, errors.New(`oracle response missing "tool"`)
	}
	reasonRaw, ok := fields["reason"]
	if !ok {
		return Plan{}, errors.New(`oracle response missing "reason"`)
	}
	completeRaw, ok := fields["isComplete"]
	if !ok {
		return Plan{}, errors.New(`oracle response missing "isComplete"`)
	}

	var plan Plan

	// tool is string or null; anything else is a schema violation.
	if string(toolRaw) != "null" {
		if err := json.Unmarshal(toolRaw, &plan.Tool); err != nil {
			return Plan{}, fmt.Errorf(`"tool" must be a string or null: %w`, err)
		}
	}
	if err := json.Unmarshal(reasonRaw, &plan.Reason); err != nil {
		return Plan{}, fmt.Errorf(`"reason" must be a string: %w`, err)
	}
	if err := json.Unmarshal(completeRaw, &plan.IsComplete); err != nil {
		return Plan{}, fmt.Errorf(`"isComplete" must be a boolean: %w`, err)
	}

	return plan, nil
}

// cleanResponse tolerates the formatting noise LLMs wrap JSON in: markdown
// code fences, hidden characters, and trailing commas.
func cleanResponse(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\r' || r == '\t' || unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	text = b.String()

	return trailingCommaRE.ReplaceAllString(text, "$1")
}
