package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/digestflow/core"
	"github.com/petal-labs/digestflow/tool"
)

// scriptedClient returns queued responses/errors in order.
type scriptedClient struct {
	responses []core.LLMResponse
	errs      []error
	calls     int
	requests  []core.LLMRequest
}

func (c *scriptedClient) Complete(ctx context.Context, req core.LLMRequest) (core.LLMResponse, error) {
	idx := c.calls
	c.calls++
	c.requests = append(c.requests, req)
	var resp core.LLMResponse
	var err error
	if idx < len(c.responses) {
		resp = c.responses[idx]
	}
	if idx < len(c.errs) {
		err = c.errs[idx]
	}
	return resp, err
}

func testTools() map[string]tool.Description {
	return map[string]tool.Description{
		"fetch_emails": {Description: "Fetches emails"},
	}
}

func TestAdapter_ReturnsRawText(t *testing.T) {
	client := &scriptedClient{responses: []core.LLMResponse{{Text: `{"tool":"fetch_emails"}`}}}
	a, err := NewAdapter(AdapterConfig{Client: client, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}

	raw, err := a.Plan(context.Background(), map[string]any{"emails": nil}, testTools())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if raw != `{"tool":"fetch_emails"}` {
		t.Fatalf("Plan() raw = %q", raw)
	}
	if client.calls != 1 {
		t.Fatalf("client calls = %d, want 1", client.calls)
	}
}

func TestAdapter_PromptCarriesStateAndTools(t *testing.T) {
	client := &scriptedClient{responses: []core.LLMResponse{{Text: "{}"}}}
	a, _ := NewAdapter(AdapterConfig{Client: client, Model: "test-model"})

	_, err := a.Plan(context.Background(), map[string]any{"numEmails": 3}, testTools())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	prompt := client.requests[0].InputText
	for _, fragment := range []string{`"numEmails": 3`, "fetch_emails", "isComplete"} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, prompt)
		}
	}
	if client.requests[0].Model != "test-model" {
		t.Fatalf("request model = %q, want test-model", client.requests[0].Model)
	}
}

func TestAdapter_RetriesOnceThenFails(t *testing.T) {
	transportErr := errors.New("connection reset")
	client := &scriptedClient{errs: []error{transportErr, transportErr}}
	a, _ := NewAdapter(AdapterConfig{Client: client, Model: "test-model"})

	_, err := a.Plan(context.Background(), nil, testTools())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Plan() error = %v, want ErrTransport", err)
	}
	if client.calls != 2 {
		t.Fatalf("client calls = %d, want 2 (one retry)", client.calls)
	}
}

func TestAdapter_RecoversOnRetry(t *testing.T) {
	client := &scriptedClient{
		responses: []core.LLMResponse{{}, {Text: "ok"}},
		errs:      []error{errors.New("timeout"), nil},
	}
	a, _ := NewAdapter(AdapterConfig{Client: client, Model: "test-model"})

	raw, err := a.Plan(context.Background(), nil, testTools())
	if err != nil {
		t.Fatalf("Plan() error = %v, want recovery on retry", err)
	}
	if raw != "ok" {
		t.Fatalf("Plan() raw = %q, want ok", raw)
	}
}

func TestAdapter_EmptyCompletionIsTransportFailure(t *testing.T) {
	client := &scriptedClient{responses: []core.LLMResponse{{Text: ""}, {Text: ""}}}
	a, _ := NewAdapter(AdapterConfig{Client: client, Model: "test-model"})

	_, err := a.Plan(context.Background(), nil, testTools())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Plan() error = %v, want ErrTransport for empty text", err)
	}
}

func TestAdapter_HonorsCanceledContext(t *testing.T) {
	client := &scriptedClient{responses: []core.LLMResponse{{Text: "ok"}}}
	a, _ := NewAdapter(AdapterConfig{Client: client, Model: "test-model", Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Plan(ctx, nil, testTools())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Plan() error = %v, want ErrTransport on canceled context", err)
	}
	if client.calls != 0 {
		t.Fatalf("client calls = %d, want 0 after cancellation", client.calls)
	}
}
