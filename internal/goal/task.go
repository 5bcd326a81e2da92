package goal

import (
	"time"
)

// Status is the lifecycle state shared by goals and task nodes.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// NodeType discriminates goal-tree nodes.
type NodeType string

const (
	NodeGoal NodeType = "goal"
	NodeTask NodeType = "task"
)

// MetadataSteps is the metadata key under which a task's step list is persisted.
const MetadataSteps = "steps"

// Goal is an objective tracked in working memory.
type Goal struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	SubGoals    []Goal `json:"sub_goals,omitempty"`
}

// Step is an atomic unit of work inside a task.
type Step struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	Completed   bool   `json:"completed"`
	Result      string `json:"result,omitempty"`
}

// TaskNode is a node of the goal tree. Only nodes of type task are executable;
// goal nodes group their children.
type TaskNode struct {
	ID          string         `json:"id"`
	Type        NodeType       `json:"type"`
	Description string         `json:"description"`
	TaskStatus  Status         `json:"task_status"`
	Progress    int            `json:"progress"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Children    []*TaskNode    `json:"children,omitempty"`
}

// IsTask reports whether the node is an executable leaf.
func (t *TaskNode) IsTask() bool {
	return t != nil && t.Type == NodeTask
}

// Clone returns a deep copy of the node. Metadata values are copied one level
// deep, except step lists which are copied element-wise.
func (t TaskNode) Clone() TaskNode {
	out := t
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			if steps, ok := v.([]Step); ok {
				v = CloneSteps(steps)
			}
			out.Metadata[k] = v
		}
	}
	if t.Children != nil {
		out.Children = make([]*TaskNode, len(t.Children))
		for i, c := range t.Children {
			cc := c.Clone()
			out.Children[i] = &cc
		}
	}
	return out
}

// CloneSteps copies a step list.
func CloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// Clone returns a deep copy of the goal and its sub-goals.
func (g Goal) Clone() Goal {
	out := g
	if g.SubGoals != nil {
		out.SubGoals = make([]Goal, len(g.SubGoals))
		for i, s := range g.SubGoals {
			out.SubGoals[i] = s.Clone()
		}
	}
	return out
}
