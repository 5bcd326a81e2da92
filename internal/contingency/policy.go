package contingency

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rahul/cortex/internal/goal"
	"github.com/tmc/langchaingo/llms"
)

// MaxDepthPolicy declines once a task's fallback chain reaches Max and
// otherwise defers to Next.
type MaxDepthPolicy struct {
	Max  int
	Next Policy
}

func (p MaxDepthPolicy) Decide(ctx context.Context, task goal.TaskNode, errMsg string) (Verdict, error) {
	if Depth(task) >= p.Max {
		return Verdict{}, nil
	}
	return p.Next.Decide(ctx, task, errMsg)
}

const fallbackInstructions = `You are the contingency planner of a personal automation agent.
A task failed. Decide whether a different task could still reach the same objective.
Call propose_fallback exactly once. Set create to false when retrying differently makes no sense
(for example the request itself is impossible or was refused by policy).`

// ModelPolicy asks a language model for a fallback through a propose_fallback tool call.
type ModelPolicy struct {
	Model llms.Model
}

func NewModelPolicy(model llms.Model) *ModelPolicy {
	return &ModelPolicy{Model: model}
}

var proposeFallbackTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "propose_fallback",
		Description: "Decide whether to replace a failed task with an alternative task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"create": map[string]any{
					"type":        "boolean",
					"description": "Whether a fallback task should be created",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "What the fallback task should do (required when create is true)",
				},
				"reasoning": map[string]any{
					"type": "string",
				},
			},
			"required": []string{"create"},
		},
	},
}

func (p *ModelPolicy) Decide(ctx context.Context, task goal.TaskNode, errMsg string) (Verdict, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, fallbackInstructions),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf("FAILED TASK: %s\nERROR: %s", task.Description, errMsg)),
	}

	resp, err := p.Model.GenerateContent(ctx, messages, llms.WithTools([]llms.Tool{proposeFallbackTool}))
	if err != nil {
		return Verdict{}, err
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("fallback policy: empty model response")
	}

	for _, tc := range resp.Choices[0].ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != "propose_fallback" {
			continue
		}
		var args struct {
			Create      bool   `json:"create"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args); err != nil {
			return Verdict{}, fmt.Errorf("failed to parse propose_fallback arguments: %w", err)
		}
		desc := strings.TrimSpace(args.Description)
		if !args.Create || desc == "" {
			return Verdict{}, nil
		}
		return Verdict{
			ShouldCreateFallback: true,
			FallbackTask: &goal.TaskNode{
				Type:        goal.NodeTask,
				Description: desc,
				TaskStatus:  goal.StatusPending,
			},
		}, nil
	}

	// no decision is a decline
	return Verdict{}, nil
}
