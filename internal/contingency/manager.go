package contingency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/cortex/internal/goal"
	"github.com/rahul/cortex/internal/observability"
	"go.uber.org/zap"
)

// MetadataFallbackDepth counts how many fallbacks precede a task in its chain.
const MetadataFallbackDepth = "fallback_depth"

// Verdict is what a Policy decides about a failed task.
type Verdict struct {
	ShouldCreateFallback bool
	FallbackTask         *goal.TaskNode
}

// Policy decides whether a failed task gets a fallback and what it is.
type Policy interface {
	Decide(ctx context.Context, task goal.TaskNode, errMsg string) (Verdict, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, task goal.TaskNode, errMsg string) (Verdict, error)

func (f PolicyFunc) Decide(ctx context.Context, task goal.TaskNode, errMsg string) (Verdict, error) {
	return f(ctx, task, errMsg)
}

// Manager hands failed tasks to a Policy. It applies no heuristic of its own.
type Manager struct {
	policy  Policy
	logger  *observability.Logger
	metrics *observability.Metrics
}

func NewManager(policy Policy, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Manager{policy: policy, logger: logger, metrics: metrics}
}

// HandleFailure returns the fallback task chosen by the policy, or nil when
// the policy declines. Policy errors are returned as is.
func (m *Manager) HandleFailure(ctx context.Context, task goal.TaskNode, errMsg string) (*goal.TaskNode, error) {
	verdict, err := m.policy.Decide(ctx, task.Clone(), errMsg)
	if err != nil {
		return nil, err
	}

	if !verdict.ShouldCreateFallback || verdict.FallbackTask == nil {
		m.count("false")
		m.logger.Info("no fallback for failed task", zap.String("task_id", task.ID), zap.String("error", errMsg))
		return nil, nil
	}

	fb := verdict.FallbackTask.Clone()
	// a fallback is a new node; it never shares the failed task's ID
	if fb.ID == "" || fb.ID == task.ID {
		fb.ID = uuid.NewString()
	}
	fb.Type = goal.NodeTask
	fb.TaskStatus = goal.StatusPending
	fb.Progress = 0
	fb.Result = ""
	fb.Error = ""
	fb.LastUpdated = time.Now()
	if fb.Metadata == nil {
		fb.Metadata = make(map[string]any)
	}
	fb.Metadata[goal.MetadataFallbackFor] = task.ID
	fb.Metadata[MetadataFallbackDepth] = Depth(task) + 1

	m.count("true")
	m.logger.Info("fallback task created",
		zap.String("task_id", task.ID),
		zap.String("fallback_id", fb.ID),
		zap.String("fallback", fb.Description),
	)
	return &fb, nil
}

func (m *Manager) count(created string) {
	if m.metrics != nil {
		m.metrics.Fallbacks.WithLabelValues(created).Inc()
	}
}

// Depth reads the fallback depth of a task. Metadata decoded from JSON holds
// float64 numbers, so both forms are accepted.
func Depth(task goal.TaskNode) int {
	switch v := task.Metadata[MetadataFallbackDepth].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
