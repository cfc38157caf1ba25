// Package core provides the foundational types shared across DigestFlow.
//
// This package contains:
//   - State: the mutable key/value store threading pipeline progress
//   - LLMClient: the abstraction over text-generation providers
package core

import "context"

// LLMClient abstracts a single provider/model backend.
// Implementations adapt various LLM providers to this common interface.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// LLMRequest is the request structure for LLM completion.
// It is transport-agnostic and works across different providers.
type LLMRequest struct {
	Model       string   // model identifier (e.g., "gpt-4o", "claude-3-opus")
	System      string   // system prompt
	InputText   string   // user prompt
	Temperature *float64 // optional: sampling temperature
	MaxTokens   *int     // optional: maximum output tokens
}

// LLMResponse captures the output from an LLM call.
type LLMResponse struct {
	Text     string        // raw text output
	Provider string        // provider ID that handled the request
	Model    string        // model that generated the response
	Usage    LLMTokenUsage // token consumption
}

// LLMTokenUsage tracks token consumption for LLM calls.
type LLMTokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
