package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rahul/cortex/internal/memory"
)

// WorkingMemoryTool lets the model rewrite the run's working memory. Each
// field it sends replaces the stored one entirely.
type WorkingMemoryTool struct{}

func NewWorkingMemoryTool() *WorkingMemoryTool {
	return &WorkingMemoryTool{}
}

func (w *WorkingMemoryTool) Name() string {
	return "working_memory"
}

func (w *WorkingMemoryTool) Description() string {
	return "Replace the active goals and/or the short-term memories of this run. Send the complete new list; omitted fields stay unchanged. Keep memories short and few."
}

func (w *WorkingMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"goals": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":          map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"status": map[string]any{
							"type": "string",
							"enum": []string{"pending", "active", "completed", "failed"},
						},
					},
					"required": []string{"description", "status"},
				},
			},
			"memories": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
}

func (w *WorkingMemoryTool) Execute(ctx context.Context, tc Context, input string) (string, error) {
	if tc.Memory == nil {
		return "Error: no working memory in this context", nil
	}

	var patch memory.Patch
	if err := json.Unmarshal([]byte(input), &patch); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if patch.IsEmpty() {
		return "Nothing to update: send goals and/or memories.", nil
	}

	tc.Memory.Update(patch)
	state := tc.Memory.State()
	return fmt.Sprintf("Working memory updated: %d goals, %d memories.", len(state.Goals), len(state.Memories)), nil
}
