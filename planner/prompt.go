package planner

import (
	"encoding/json"
	"fmt"

	"github.com/petal-labs/digestflow/tool"
)

const planningSystem = "You are a planning agent for a newsletter digest pipeline. " +
	"You decide which tool to invoke next, or whether the goal has been achieved."

const planningInstructions = `Analyze the current state and available tools to determine:
1. Which tool should be invoked next
2. Why this tool is the best choice
3. Whether the overall goal has been achieved

You MUST return a valid JSON object with exactly these fields:
{
    "tool": "name_of_tool_to_invoke",
    "reason": "explanation_of_choice",
    "isComplete": true_or_false
}

IMPORTANT:
1. Return ONLY the JSON object, no other text
2. The tool field must be one of the available tools listed above, or null
3. The isComplete field must be a boolean (true or false)
4. The reason field must be a string explaining your choice
5. Respond with raw JSON only, no markdown or code blocks`

// buildPrompt assembles the planning request: the state snapshot as a JSON
// object plus the registry's redacted tool descriptions, followed by strict
// response-format instructions.
func buildPrompt(snapshot map[string]any, tools map[string]tool.Description) (string, error) {
	stateJSON, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling state snapshot: %w", err)
	}
	toolsJSON, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling tool descriptions: %w", err)
	}

	return fmt.Sprintf("Current state:\n%s\n\nAvailable tools and their descriptions:\n%s\n\n%s",
		stateJSON, toolsJSON, planningInstructions), nil
}
