package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/petal-labs/digestflow/runtime"
)

// recordingSource wraps StaticSource and remembers the limit it was asked
// for.
type recordingSource struct {
	StaticSource
	limit int
}

func (s *recordingSource) Fetch(ctx context.Context, limit int) ([]Email, error) {
	s.limit = limit
	return s.StaticSource.Fetch(ctx, limit)
}

func TestNew_RequiresSourceAndClient(t *testing.T) {
	if _, err := New(Config{Client: &scriptedClient{}}); err == nil {
		t.Fatalf("New() without source succeeded")
	}
	if _, err := New(Config{Source: &StaticSource{}}); err == nil {
		t.Fatalf("New() without client succeeded")
	}
}

func TestPipeline_RunProducesDigest(t *testing.T) {
	source := &recordingSource{StaticSource: StaticSource{Emails: []Email{
		{Subject: "Weekly Go News", From: "news@golang.example", Content: "issue 42"},
		{Subject: "Re: meeting", From: "colleague@example.com", Content: "see you at 3"},
	}}}

	// One scripted backend serves both the planner and the tools, in the
	// order the run invokes them.
	client := &scriptedClient{responses: []string{
		`{"tool": "fetch_emails", "reason": "need emails", "isComplete": false}`,
		`{"tool": "classify_newsletters", "reason": "identify newsletters", "isComplete": false}`,
		`[
			{"subject": "Weekly Go News", "from": "news@golang.example", "isNewsletter": true},
			{"subject": "Re: meeting", "from": "colleague@example.com", "isNewsletter": false}
		]`,
		`{"tool": "summarize_newsletters", "reason": "summarize them", "isComplete": false}`,
		"issue 42 covers generics",
		`{"tool": "render_digest", "reason": "format the digest", "isComplete": false}`,
		"# Newsletter Digest\n\n## Weekly Go News\nissue 42 covers generics",
		`{"tool": null, "reason": "digest is ready", "isComplete": true}`,
	}}

	var events []runtime.Event
	p, err := New(Config{
		Source: source,
		Client: client,
		Model:  "test-model",
		Events: func(ev runtime.Event) { events = append(events, ev) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	digest, err := p.Run(context.Background(), 5)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if digest != "# Newsletter Digest\n\n## Weekly Go News\nissue 42 covers generics" {
		t.Fatalf("digest = %q", digest)
	}
	if client.calls != len(client.responses) {
		t.Fatalf("client calls = %d, want %d", client.calls, len(client.responses))
	}
	if source.limit != 5 {
		t.Fatalf("fetch limit = %d, want requested count 5", source.limit)
	}
	if len(events) == 0 {
		t.Fatalf("no events emitted")
	}
	last := events[len(events)-1]
	if last.Kind != runtime.EventRunFinished {
		t.Fatalf("last event = %s, want %s", last.Kind, runtime.EventRunFinished)
	}
}

func TestPipeline_RunDefaultsEmailCount(t *testing.T) {
	source := &recordingSource{}
	client := &scriptedClient{responses: []string{
		`{"tool": "fetch_emails", "reason": "need emails", "isComplete": false}`,
		`{"tool": null, "reason": "mailbox is empty", "isComplete": true}`,
	}}

	p, err := New(Config{Source: source, Client: client, Model: "test-model"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	digest, err := p.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if source.limit != DefaultEmailCount {
		t.Fatalf("fetch limit = %d, want default %d", source.limit, DefaultEmailCount)
	}
	if digest != EmptyDigest {
		t.Fatalf("digest = %q, want empty-mailbox placeholder", digest)
	}
}

func TestPipeline_EarlyCompletionReturnsPlaceholder(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"tool": null, "reason": "nothing to do", "isComplete": true}`,
	}}

	p, err := New(Config{Source: &StaticSource{}, Client: client, Model: "test-model"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	digest, err := p.Run(context.Background(), 3)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if digest != EmptyDigest {
		t.Fatalf("digest = %q, want %q", digest, EmptyDigest)
	}
}

func TestPipeline_ToolFailureAbortsRun(t *testing.T) {
	failing := &failingSource{err: errors.New("mailbox unavailable")}

	client := &scriptedClient{responses: []string{
		`{"tool": "fetch_emails", "reason": "need emails", "isComplete": false}`,
	}}

	p, err := New(Config{Source: failing, Client: client, Model: "test-model"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := p.Run(context.Background(), 3); !errors.Is(err, runtime.ErrToolExecution) {
		t.Fatalf("Run() error = %v, want %v", err, runtime.ErrToolExecution)
	}
}

type failingSource struct {
	err error
}

func (s *failingSource) Fetch(ctx context.Context, limit int) ([]Email, error) {
	return nil, s.err
}
