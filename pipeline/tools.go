package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/petal-labs/digestflow/core"
	"github.com/petal-labs/digestflow/tool"
)

// State keys the pipeline threads between tools.
const (
	keyEmails      = "emails"
	keyNewsletters = "newsletters"
	keySummarized  = "summarizedNewsletters"
	keyDigest      = "digest"

	// constNumEmails is the invocation-time constant carrying the
	// requested item count.
	constNumEmails = "numEmails"
)

// contentPreviewLimit bounds how much email body is sent to the classifier
// prompt per item.
const contentPreviewLimit = 1000

// isNewsletterField is the boolean classification field; only elements where
// it is true propagate into later pipeline stages.
const isNewsletterField = "isNewsletter"

// NewFetchTool returns the data-acquisition step: it pulls emails from the
// mailbox source and writes them into state as plain items.
func NewFetchTool(source MailSource) tool.Registered {
	return tool.Registered{
		Manifest: tool.Manifest{
			Name:        "fetch_emails",
			Description: "Fetches emails from the configured mailbox",
			InputParams: []tool.Param{
				{
					Name:        constNumEmails,
					Type:        "int",
					Description: "Number of emails to fetch",
					Required:    false,
					Default:     10,
				},
			},
			Output: tool.OutputSpec{
				Type:        "list",
				Description: "List of email objects containing subject, sender, and content",
				Structure: map[string]string{
					"subject": "string",
					"from":    "string",
					"content": "string",
				},
			},
			State: tool.StateDeps{Writes: []string{keyEmails}},
		},
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			limit := intArg(args, constNumEmails, 10)
			emails, err := source.Fetch(ctx, limit)
			if err != nil {
				return nil, err
			}
			items := make([]map[string]any, 0, len(emails))
			for _, e := range emails {
				items = append(items, map[string]any{
					"subject": e.Subject,
					"from":    e.From,
					"content": e.Content,
				})
			}
			return items, nil
		},
	}
}

// NewClassifyTool returns the classification step: one LLM call over all
// fetched emails, marking each with the isNewsletter flag.
func NewClassifyTool(client core.LLMClient, model string) tool.Registered {
	return tool.Registered{
		Manifest: tool.Manifest{
			Name:        "classify_newsletters",
			Description: "Analyzes emails to identify which ones are newsletters",
			InputParams: []tool.Param{
				{
					Name:        keyEmails,
					Type:        "list",
					Description: "List of email objects to analyze",
					Required:    true,
				},
			},
			Output: tool.OutputSpec{
				Type:        "list",
				Description: "List of emails with added isNewsletter flag",
				Structure: map[string]string{
					"subject":      "string",
					"from":         "string",
					"content":      "string",
					"isNewsletter": "bool",
				},
			},
			State: tool.StateDeps{Reads: []string{keyEmails}, Writes: []string{keyNewsletters}},
		},
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			emails, _ := toItems(args[keyEmails])
			if len(emails) == 0 {
				return []map[string]any{}, nil
			}
			return classifyEmails(ctx, client, model, emails)
		},
	}
}

// NewSummarizeTool returns the summarization step: one LLM call per
// qualifying newsletter, adding a summary field.
func NewSummarizeTool(client core.LLMClient, model string) tool.Registered {
	return tool.Registered{
		Manifest: tool.Manifest{
			Name:        "summarize_newsletters",
			Description: "Generates concise summaries of identified newsletters",
			InputParams: []tool.Param{
				{
					Name:        keyNewsletters,
					Type:        "list",
					Description: "List of newsletter objects to summarize",
					Required:    true,
					Filter:      &tool.FilterSpec{Field: isNewsletterField, Value: true},
				},
			},
			Output: tool.OutputSpec{
				Type:        "list",
				Description: "List of newsletters with added summary field",
				Structure: map[string]string{
					"subject":      "string",
					"from":         "string",
					"content":      "string",
					"isNewsletter": "bool",
					"summary":      "string",
				},
			},
			State: tool.StateDeps{Reads: []string{keyNewsletters}, Writes: []string{keySummarized}},
		},
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			newsletters, _ := toItems(args[keyNewsletters])
			out := make([]map[string]any, 0, len(newsletters))
			for _, item := range newsletters {
				prompt := fmt.Sprintf(`Generate a concise summary of this newsletter:

Subject: %v
From: %v
Content: %v

Focus on:
1. Main topics or themes
2. Key points or highlights
3. Any calls to action

Return the summary in a clear, structured format.`, item["subject"], item["from"], item["content"])

				resp, err := client.Complete(ctx, core.LLMRequest{
					Model:     model,
					InputText: prompt,
				})
				if err != nil {
					return nil, fmt.Errorf("summarizing %q: %w", item["subject"], err)
				}

				withSummary := cloneItem(item)
				withSummary["summary"] = resp.Text
				out = append(out, withSummary)
			}
			return out, nil
		},
	}
}

// NewRenderTool returns the final step: a single LLM call formatting the
// summaries into the markdown digest.
func NewRenderTool(client core.LLMClient, model string) tool.Registered {
	return tool.Registered{
		Manifest: tool.Manifest{
			Name:        "render_digest",
			Description: "Formats newsletter summaries into a markdown digest",
			InputParams: []tool.Param{
				{
					Name:        keySummarized,
					Type:        "list",
					Description: "List of newsletters with summaries to format",
					Required:    true,
					Filter:      &tool.FilterSpec{Field: isNewsletterField, Value: true},
				},
			},
			Output: tool.OutputSpec{
				Type:        "string",
				Description: "Markdown-formatted digest with introduction, sections, and conclusion",
			},
			State: tool.StateDeps{Reads: []string{keySummarized}, Writes: []string{keyDigest}},
		},
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			summarized, _ := toItems(args[keySummarized])
			itemsJSON, err := json.MarshalIndent(summarized, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("rendering digest: %w", err)
			}

			prompt := fmt.Sprintf(`Create a well-formatted markdown digest of these newsletter summaries:

%s

Format it as:
# Newsletter Digest

## [Newsletter Name/Subject]
[Summary content]

Include a brief introduction and conclusion.`, itemsJSON)

			resp, err := client.Complete(ctx, core.LLMRequest{
				Model:     model,
				InputText: prompt,
			})
			if err != nil {
				return nil, fmt.Errorf("rendering digest: %w", err)
			}
			return resp.Text, nil
		},
	}
}

// classifyEmails sends all emails to the model in one prompt and matches the
// returned flags back to the inputs by subject and sender. Emails the model
// fails to mention are marked non-newsletters; an unparseable response
// degrades to an empty result rather than failing the run.
func classifyEmails(ctx context.Context, client core.LLMClient, model string, emails []map[string]any) ([]map[string]any, error) {
	safe := make([]map[string]any, 0, len(emails))
	for _, e := range emails {
		safe = append(safe, map[string]any{
			"subject": e["subject"],
			"from":    e["from"],
			"content": truncate(stringField(e, "content"), contentPreviewLimit),
		})
	}
	safeJSON, err := json.MarshalIndent(safe, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("classifying: %w", err)
	}

	prompt := fmt.Sprintf(`Analyze these emails and identify which ones are newsletters.
A newsletter is a regularly distributed publication about a particular topic or set of topics.

Emails to analyze:
%s

For each email, determine if it's a newsletter based on:
1. Regular distribution pattern
2. Topic-focused content
3. Mass distribution characteristics
4. Newsletter-like formatting

Return a JSON array where each object has:
{
    "subject": "email subject",
    "from": "sender email",
    "isNewsletter": true/false
}

IMPORTANT:
1. Return ONLY the JSON array, no other text
2. Include ALL emails from the input, not just newsletters
3. Set isNewsletter to false for non-newsletter emails
4. Match the subject and from fields exactly with the input emails
5. Respond with raw JSON only, no markdown or code blocks`, safeJSON)

	resp, err := client.Complete(ctx, core.LLMRequest{Model: model, InputText: prompt})
	if err != nil {
		return nil, fmt.Errorf("classifying: %w", err)
	}

	var flags []struct {
		Subject      string `json:"subject"`
		From         string `json:"from"`
		IsNewsletter bool   `json:"isNewsletter"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(resp.Text)), &flags); err != nil {
		return []map[string]any{}, nil
	}

	out := make([]map[string]any, 0, len(emails))
	for _, e := range emails {
		marked := cloneItem(e)
		marked[isNewsletterField] = false
		for _, f := range flags {
			if f.Subject == stringField(e, "subject") && f.From == stringField(e, "from") {
				marked[isNewsletterField] = f.IsNewsletter
				break
			}
		}
		out = append(out, marked)
	}
	return out, nil
}

// trailingCommaRE matches a comma left dangling before a closing bracket.
var trailingCommaRE = regexp.MustCompile(`,(\s*[}\]])`)

// cleanJSONResponse strips the markdown wrapping and trailing commas models
// add around JSON payloads.
func cleanJSONResponse(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)
	return trailingCommaRE.ReplaceAllString(text, "$1")
}

func cloneItem(item map[string]any) map[string]any {
	out := make(map[string]any, len(item)+1)
	for k, v := range item {
		out[k] = v
	}
	return out
}

func toItems(value any) ([]map[string]any, bool) {
	switch v := value.(type) {
	case []map[string]any:
		return v, true
	case []any:
		items := make([]map[string]any, 0, len(v))
		for _, elem := range v {
			m, ok := elem.(map[string]any)
			if !ok {
				return nil, false
			}
			items = append(items, m)
		}
		return items, true
	default:
		return nil, false
	}
}

func stringField(item map[string]any, key string) string {
	s, _ := item[key].(string)
	return s
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
