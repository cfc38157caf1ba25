package planner

import (
	"strings"
	"testing"
)

func TestNormalize_ValidResponse(t *testing.T) {
	n := Normalizer{FallbackTool: "fetch_emails"}

	plan := n.Normalize(`{"tool": "classify_newsletters", "reason": "emails fetched", "isComplete": false}`)
	if plan.Tool != "classify_newsletters" {
		t.Fatalf("Tool = %q, want classify_newsletters", plan.Tool)
	}
	if plan.IsComplete {
		t.Fatalf("IsComplete = true, want false")
	}
	if plan.Reason != "emails fetched" {
		t.Fatalf("Reason = %q, want %q", plan.Reason, "emails fetched")
	}
}

func TestNormalize_NullToolOnCompletion(t *testing.T) {
	n := Normalizer{FallbackTool: "fetch_emails"}

	plan := n.Normalize(`{"tool": null, "reason": "digest ready", "isComplete": true}`)
	if plan.Tool != "" {
		t.Fatalf("Tool = %q, want empty for null", plan.Tool)
	}
	if !plan.IsComplete {
		t.Fatalf("IsComplete = false, want true")
	}
}

func TestNormalize_ToleratesFormattingNoise(t *testing.T) {
	n := Normalizer{FallbackTool: "fetch_emails"}

	cases := []struct {
		name string
		raw  string
	}{
		{"code fence", "```json\n{\"tool\": \"fetch_emails\", \"reason\": \"start\", \"isComplete\": false}\n```"},
		{"bare fence", "```\n{\"tool\": \"fetch_emails\", \"reason\": \"start\", \"isComplete\": false}\n```"},
		{"trailing comma", `{"tool": "fetch_emails", "reason": "start", "isComplete": false,}`},
		{"hidden characters", "{\"tool\": \"fetch_emails\",\x00 \"reason\": \"start\",\a \"isComplete\": false}"},
		{"surrounding whitespace", "\n\n  {\"tool\": \"fetch_emails\", \"reason\": \"start\", \"isComplete\": false}  \n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := n.Normalize(tc.raw)
			if plan.Tool != "fetch_emails" || plan.IsComplete {
				t.Fatalf("Normalize(%q) = %+v, want fetch_emails / incomplete", tc.raw, plan)
			}
			if strings.HasPrefix(plan.Reason, "falling back") {
				t.Fatalf("Normalize(%q) fell back: %s", tc.raw, plan.Reason)
			}
		})
	}
}

func TestNormalize_FallbackIsDeterministic(t *testing.T) {
	n := Normalizer{FallbackTool: "fetch_emails"}

	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not json", "I think the next step should be fetching."},
		{"missing tool", `{"reason": "x", "isComplete": false}`},
		{"missing reason", `{"tool": "fetch_emails", "isComplete": false}`},
		{"missing isComplete", `{"tool": "fetch_emails", "reason": "x"}`},
		{"tool wrong type", `{"tool": 42, "reason": "x", "isComplete": false}`},
		{"isComplete wrong type", `{"tool": "fetch_emails", "reason": "x", "isComplete": "yes"}`},
		{"array not object", `[1, 2, 3]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := n.Normalize(tc.raw)
			if plan.Tool != "fetch_emails" {
				t.Fatalf("fallback Tool = %q, want fetch_emails", plan.Tool)
			}
			if plan.IsComplete {
				t.Fatalf("fallback IsComplete = true, want false")
			}
			if plan.Reason == "" {
				t.Fatalf("fallback Reason empty, want cause")
			}
		})
	}
}

func TestCleanResponse_PreservesNewlinesAndTabs(t *testing.T) {
	got := cleanResponse("{\n\t\"tool\": \"x\"\n}")
	if !strings.Contains(got, "\n") || !strings.Contains(got, "\t") {
		t.Fatalf("cleanResponse stripped newline/tab: %q", got)
	}
}
