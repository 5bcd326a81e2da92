package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MinScheduleInterval keeps recurring goals from spamming the chat.
const MinScheduleInterval = 60

type ScheduleStore interface {
	AddSchedule(ctx context.Context, chatID, goal string, intervalSeconds int) error
	ClearSchedules(ctx context.Context, chatID string) error
}

// ScheduleTool lets the agent register goals that are executed again later.
type ScheduleTool struct {
	Store ScheduleStore
}

func NewScheduleTool(store ScheduleStore) *ScheduleTool {
	return &ScheduleTool{Store: store}
}

func (c *ScheduleTool) Name() string {
	return "schedule_goal"
}

func (c *ScheduleTool) Description() string {
	return "Manage scheduled goals: 'schedule' a goal to run later (once or recurring) or 'clear' all scheduled goals of this chat."
}

func (c *ScheduleTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"schedule", "clear"},
				"description": "The action to perform",
			},
			"goal": map[string]any{
				"type":        "string",
				"description": "What the agent should do when the schedule fires (only for 'schedule')",
			},
			"interval_seconds": map[string]any{
				"type":        "integer",
				"description": "Repeat interval in seconds (minimum 60); 0 runs the goal once",
			},
		},
		"required": []string{"action"},
	}
}

func (c *ScheduleTool) Execute(ctx context.Context, tc Context, input string) (string, error) {
	var args struct {
		Action   string `json:"action"`
		Goal     string `json:"goal"`
		Interval int    `json:"interval_seconds"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if tc.ChatID == "" {
		return "", fmt.Errorf("missing chat in tool context")
	}

	switch args.Action {
	case "clear":
		if err := c.Store.ClearSchedules(ctx, tc.ChatID); err != nil {
			return "", fmt.Errorf("failed to clear schedules: %w", err)
		}
		return "Successfully cleared all your scheduled goals.", nil

	case "schedule":
		if strings.TrimSpace(args.Goal) == "" {
			return "Error: goal is required to schedule", nil
		}
		if args.Interval != 0 && args.Interval < MinScheduleInterval {
			return fmt.Sprintf("Error: Minimum interval is %d seconds to prevent spamming.", MinScheduleInterval), nil
		}
		if err := c.Store.AddSchedule(ctx, tc.ChatID, args.Goal, args.Interval); err != nil {
			return "", fmt.Errorf("failed to schedule goal: %w", err)
		}
		if args.Interval == 0 {
			return fmt.Sprintf("Scheduled goal '%s' to run once.", args.Goal), nil
		}
		return fmt.Sprintf("Successfully scheduled goal '%s' every %d seconds.", args.Goal, args.Interval), nil

	default:
		return "Invalid action. Use 'schedule' or 'clear'.", nil
	}
}
