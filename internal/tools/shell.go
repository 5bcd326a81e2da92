package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultMaxOutput = 20000

// ShellTool runs bash commands inside the workspace directory.
type ShellTool struct {
	Dir       string
	Timeout   time.Duration
	MaxOutput int
}

func NewShellTool(dir string) *ShellTool {
	return &ShellTool{Dir: dir, Timeout: 2 * time.Minute, MaxOutput: defaultMaxOutput}
}

func (s *ShellTool) Name() string {
	return "shell"
}

func (s *ShellTool) Description() string {
	return "Execute a shell command in the workspace directory and return its combined output."
}

func (s *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (s *ShellTool) Execute(ctx context.Context, tc Context, input string) (string, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return "Error: empty command", nil
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", args.Command)
	cmd.Dir = s.Dir
	output, err := cmd.CombinedOutput()

	result := strings.TrimSpace(string(output))
	if result == "" {
		result = "(no output)"
	}
	if s.MaxOutput > 0 && len(result) > s.MaxOutput {
		result = result[:s.MaxOutput] + "\n... (output truncated)"
	}

	// failures go back to the model as output, not as tool errors
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return result, nil
	case ctx.Err() != nil:
		return fmt.Sprintf("Command aborted: %v\nOutput: %s", ctx.Err(), result), nil
	case errors.As(err, &exitErr):
		return fmt.Sprintf("Command exited with code %d\nOutput: %s", exitErr.ExitCode(), result), nil
	default:
		return fmt.Sprintf("Command failed with error: %v\nOutput: %s", err, result), nil
	}
}
