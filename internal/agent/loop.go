package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/cortex/internal/memory"
	"github.com/rahul/cortex/internal/observability"
	"github.com/rahul/cortex/internal/store"
	"github.com/rahul/cortex/internal/tools"
	"github.com/tmc/langchaingo/llms"
)

const (
	// DefaultMaxIterations bounds the reasoning rounds of one run.
	DefaultMaxIterations = 50

	ExhaustedMessage = "I've reached the maximum number of reasoning steps without finishing. Please try a simpler or more specific request."
)

// ToolExecutor executes a batch of tool calls and returns one result per
// call, in call order.
type ToolExecutor interface {
	Definitions(tc tools.Context) []llms.Tool
	ExecuteTools(ctx context.Context, tc tools.Context, calls []llms.ToolCall) ([]tools.Result, error)
}

// ConversationLog records the turns of a run.
type ConversationLog interface {
	AddMessage(ctx context.Context, conversationID, role, content string, meta map[string]any) error
}

// Role is one part of the brain: its instructions and the tools it may use.
// An empty Tools list means every registered tool.
type Role struct {
	Name         string
	Instructions string
	Tools        []string
}

type RunRequest struct {
	ConversationID string
	ChatID         string
	TaskID         string
	Role           Role
	Goal           string
	Memory         *memory.Manager
	// BeforeIteration runs ahead of every reasoning round; a non-nil error
	// aborts the run and is returned as is.
	BeforeIteration func(ctx context.Context) error
}

type RunResult struct {
	Completed     bool
	Result        string
	Iterations    int
	ToolCallsMade int
	State         LoopState
}

type LoopOption func(*Loop)

func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

func WithTemperature(t float64) LoopOption {
	return func(l *Loop) {
		l.temperature = t
	}
}

func WithLoopMetrics(m *observability.Metrics) LoopOption {
	return func(l *Loop) {
		l.metrics = m
	}
}

// Loop alternates model calls and tool executions until the model answers
// without tool calls or the iteration cap is hit.
type Loop struct {
	model         ModelService
	tools         ToolExecutor
	log           ConversationLog
	logger        *observability.Logger
	metrics       *observability.Metrics
	maxIterations int
	temperature   float64
}

func NewLoop(model ModelService, executor ToolExecutor, log ConversationLog, logger *observability.Logger, opts ...LoopOption) *Loop {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	l := &Loop{
		model:         model,
		tools:         executor,
		log:           log,
		logger:        logger,
		maxIterations: DefaultMaxIterations,
		temperature:   0.2,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives one goal to an answer. Errors of the model, the tool executor
// and the conversation log are returned unmodified, with the partial result.
func (l *Loop) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	tc := tools.Context{
		ConversationID: req.ConversationID,
		ChatID:         req.ChatID,
		TaskID:         req.TaskID,
		Role:           req.Role.Name,
		Allowed:        req.Role.Tools,
		Memory:         req.Memory,
	}
	defs := l.tools.Definitions(tc)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(req)),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Goal),
	}

	res := RunResult{State: StateReasoning}
	for res.Iterations < l.maxIterations {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if req.BeforeIteration != nil {
			if err := req.BeforeIteration(ctx); err != nil {
				return res, err
			}
		}

		res.Iterations++
		l.countIteration(req.Role.Name)

		// tools may have rewritten working memory during the last round
		messages[0] = llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(req))

		resp, err := l.model.Call(ctx, ModelRequest{
			Messages:    messages,
			Temperature: l.temperature,
			Tools:       defs,
		})
		if err != nil {
			return res, err
		}
		l.logger.LogLLM(req.ChatID, req.TaskID, len(messages), resp.Content, resp.ToolCalls)

		if len(resp.ToolCalls) == 0 {
			if res.State, err = transition(res.State, eventFinalAnswer); err != nil {
				return res, err
			}
			if err := l.log.AddMessage(ctx, req.ConversationID, store.RoleAI, resp.Content, map[string]any{
				"kind": "final",
				"role": req.Role.Name,
			}); err != nil {
				return res, err
			}
			res.Completed = true
			res.Result = resp.Content
			l.countOutcome(req.Role.Name, res.State)
			return res, nil
		}

		if res.State, err = transition(res.State, eventToolCalls); err != nil {
			return res, err
		}
		if resp.Content != "" {
			l.logger.LogReasoning(req.ChatID, req.TaskID, resp.Content)
		}
		if err := l.log.AddMessage(ctx, req.ConversationID, store.RoleAI, resp.Content, map[string]any{
			"kind":       "tool_calls",
			"role":       req.Role.Name,
			"tool_calls": describeCalls(resp.ToolCalls),
		}); err != nil {
			return res, err
		}
		messages = append(messages, assistantMessage(resp))

		results, err := l.tools.ExecuteTools(ctx, tc, resp.ToolCalls)
		if err != nil {
			return res, err
		}
		if len(results) != len(resp.ToolCalls) {
			return res, fmt.Errorf("tool executor returned %d results for %d calls", len(results), len(resp.ToolCalls))
		}
		res.ToolCallsMade += len(resp.ToolCalls)

		for _, r := range results {
			if err := l.log.AddMessage(ctx, req.ConversationID, store.RoleTool, r.Content, map[string]any{
				"tool_call_id": r.ToolCallID,
				"name":         r.Name,
			}); err != nil {
				return res, err
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: r.ToolCallID,
						Name:       r.Name,
						Content:    r.Content,
					},
				},
			})
		}

		if res.State, err = transition(res.State, eventToolsExecuted); err != nil {
			return res, err
		}
	}

	var err error
	if res.State, err = transition(res.State, eventIterationCap); err != nil {
		return res, err
	}
	res.Result = ExhaustedMessage
	l.countOutcome(req.Role.Name, res.State)
	return res, nil
}

func (l *Loop) countIteration(role string) {
	if l.metrics != nil {
		l.metrics.LoopIterations.WithLabelValues(role).Inc()
	}
}

func (l *Loop) countOutcome(role string, state LoopState) {
	if l.metrics != nil {
		l.metrics.LoopOutcomes.WithLabelValues(role, string(state)).Inc()
	}
}

func systemPrompt(req RunRequest) string {
	var sb strings.Builder
	sb.WriteString(req.Role.Instructions)
	if req.Memory != nil {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(req.Memory.Render())
	}
	return sb.String()
}

func assistantMessage(resp ModelResponse) llms.MessageContent {
	var parts []llms.ContentPart
	if resp.Content != "" {
		parts = append(parts, llms.TextContent{Text: resp.Content})
	}
	for _, tc := range resp.ToolCalls {
		parts = append(parts, tc)
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

func describeCalls(calls []llms.ToolCall) []map[string]string {
	out := make([]map[string]string, 0, len(calls))
	for _, c := range calls {
		entry := map[string]string{"id": c.ID}
		if c.FunctionCall != nil {
			entry["name"] = c.FunctionCall.Name
			entry["arguments"] = c.FunctionCall.Arguments
		}
		out = append(out, entry)
	}
	return out
}
