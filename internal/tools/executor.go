package tools

import (
	"context"
	"fmt"

	"github.com/rahul/cortex/internal/governance"
	"github.com/rahul/cortex/internal/observability"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ExecutorOption func(*BatchExecutor)

func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(b *BatchExecutor) {
		b.metrics = m
	}
}

// WithConcurrency sets how many calls of one batch may run at once.
func WithConcurrency(n int) ExecutorOption {
	return func(b *BatchExecutor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// BatchExecutor runs the tool calls of one model turn. Failures of single
// tools are reported to the model as result text; only a cancelled context
// fails the batch.
type BatchExecutor struct {
	registry    *Registry
	policy      governance.PolicyEngine
	logger      *observability.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewBatchExecutor(registry *Registry, policy governance.PolicyEngine, logger *observability.Logger, opts ...ExecutorOption) *BatchExecutor {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	b := &BatchExecutor{
		registry:    registry,
		policy:      policy,
		logger:      logger,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BatchExecutor) Definitions(tc Context) []llms.Tool {
	return b.registry.Definitions(tc)
}

// ExecuteTools returns one result per call, in call order.
func (b *BatchExecutor) ExecuteTools(ctx context.Context, tc Context, calls []llms.ToolCall) ([]Result, error) {
	results := make([]Result, len(calls))

	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = b.executeOne(ctx, tc, call)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *BatchExecutor) executeOne(ctx context.Context, tc Context, call llms.ToolCall) Result {
	res := Result{ToolCallID: call.ID}
	if call.FunctionCall == nil {
		res.Content = "Error: tool call without a function"
		return res
	}
	name, args := call.FunctionCall.Name, call.FunctionCall.Arguments
	res.Name = name
	if b.metrics != nil {
		b.metrics.ToolCalls.WithLabelValues(name).Inc()
	}

	tool := b.registry.Get(name)
	if tool == nil || !tc.allows(name) {
		res.Content = fmt.Sprintf("Error: Tool %s not found", name)
		return res
	}

	if b.policy != nil {
		verdict, err := b.policy.Evaluate(ctx, governance.Request{
			Tool:      name,
			Arguments: args,
			ChatID:    tc.ChatID,
			Role:      tc.Role,
		})
		if err != nil {
			res.Content = fmt.Sprintf("Error: policy check failed: %v", err)
			return res
		}
		if !verdict.Allowed() {
			b.logger.LogPolicyCheck(tc.ChatID, tc.TaskID, name, string(verdict.Effect), verdict.Reason)
			res.Content = "Blocked by policy: " + verdict.Reason
			return res
		}
	}

	b.logger.LogToolCall(tc.ChatID, tc.TaskID, name, args)
	out, err := tool.Execute(ctx, tc, args)
	if err != nil {
		b.logger.Debug("tool failed", zap.String("tool", name), zap.Error(err))
		out = fmt.Sprintf("Error: %v", err)
	}
	b.logger.LogToolResult(tc.ChatID, tc.TaskID, name, out)

	res.Content = out
	return res
}
