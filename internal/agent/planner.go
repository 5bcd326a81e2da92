package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/cortex/internal/goal"
	"github.com/rahul/cortex/internal/memory"
	"github.com/rahul/cortex/internal/observability"
	"github.com/tmc/langchaingo/llms"
)

// Action is one thing a decision asks the brain to do.
type Action string

const (
	ActionRespond   Action = "respond"
	ActionDecompose Action = "decompose"
	ActionCallTool  Action = "call_tool"
	ActionTerminate Action = "terminate"
)

func (a Action) valid() bool {
	switch a {
	case ActionRespond, ActionDecompose, ActionCallTool, ActionTerminate:
		return true
	}
	return false
}

// Decision is an ordered list of actions with their payloads and the working
// memory updates to apply before acting. A call_tool payload is a JSON object
// {"name": ..., "arguments": {...}}.
type Decision struct {
	Actions      []Action
	Payloads     map[Action]string
	StateUpdates memory.Patch
}

type Proposal struct {
	Source     string
	Confidence float64 // [0,1]
	Priority   int     // [0,10]
	Reasoning  string
	Decision   Decision
}

// SelectProposal picks the highest priority, then the highest confidence.
// Ties keep the earlier proposal.
func SelectProposal(proposals []Proposal) (Proposal, bool) {
	if len(proposals) == 0 {
		return Proposal{}, false
	}
	best := proposals[0]
	for _, p := range proposals[1:] {
		if p.Priority > best.Priority || (p.Priority == best.Priority && p.Confidence > best.Confidence) {
			best = p
		}
	}
	return best, true
}

var decideTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "decide",
		Description: "Propose how to handle the user's message. Call it once per alternative you want considered.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source":     map[string]any{"type": "string", "description": "Short name of the perspective behind this proposal"},
				"confidence": map[string]any{"type": "number", "description": "0 to 1"},
				"priority":   map[string]any{"type": "integer", "description": "0 to 10"},
				"reasoning":  map[string]any{"type": "string"},
				"actions": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "string",
						"enum": []string{string(ActionRespond), string(ActionDecompose), string(ActionCallTool), string(ActionTerminate)},
					},
					"description": "Actions to run in order",
				},
				"reply":          map[string]any{"type": "string", "description": "Text for 'respond' or 'terminate'"},
				"goal":           map[string]any{"type": "string", "description": "Goal to decompose and execute for 'decompose'"},
				"tool":           map[string]any{"type": "string", "description": "Tool name for 'call_tool'"},
				"tool_arguments": map[string]any{"type": "object", "description": "Tool arguments for 'call_tool'"},
				"goals": map[string]any{
					"type":        "array",
					"description": "Replacement list of active goals, if it changes",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":          map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"status":      map[string]any{"type": "string", "enum": []string{"pending", "active", "completed", "failed"}},
						},
					},
				},
				"memories": map[string]any{
					"type":        "array",
					"description": "Replacement list of short-term memories, if it changes",
					"items":       map[string]any{"type": "string"},
				},
			},
			"required": []string{"actions"},
		},
	},
}

var proposePlanTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "propose_plan",
		Description: "Break a goal into ordered tasks. Each task may list its own ordered steps.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tasks": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"description": map[string]any{"type": "string"},
							"steps": map[string]any{
								"type":  "array",
								"items": map[string]any{"type": "string"},
							},
						},
						"required": []string{"description"},
					},
				},
			},
			"required": []string{"tasks"},
		},
	},
}

const decomposeInstructions = `Break the goal into the smallest ordered list of concrete tasks that achieves it.
Call propose_plan. Prefer few tasks; give steps only when a task clearly has several phases.`

type decideArgs struct {
	Source        string          `json:"source"`
	Confidence    float64         `json:"confidence"`
	Priority      int             `json:"priority"`
	Reasoning     string          `json:"reasoning"`
	Actions       []Action        `json:"actions"`
	Reply         string          `json:"reply"`
	Goal          string          `json:"goal"`
	Tool          string          `json:"tool"`
	ToolArguments json.RawMessage `json:"tool_arguments"`
	Goals         *[]goal.Goal    `json:"goals"`
	Memories      *[]string       `json:"memories"`
}

// Planner turns user input into decisions and goals into task trees.
type Planner struct {
	model       ModelService
	logger      *observability.Logger
	temperature float64
	now         func() time.Time
}

func NewPlanner(model ModelService, logger *observability.Logger, temperature float64) *Planner {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Planner{model: model, logger: logger, temperature: temperature, now: time.Now}
}

// Propose asks the model for proposals. Every decide call is one proposal;
// a plain answer becomes a single respond proposal.
func (p *Planner) Propose(ctx context.Context, instructions, input string, wm *memory.Manager) ([]Proposal, error) {
	system := instructions
	if wm != nil {
		system += "\n\n" + wm.Render()
	}

	resp, err := p.model.Call(ctx, ModelRequest{
		Messages: []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, system),
			llms.TextParts(llms.ChatMessageTypeHuman, input),
		},
		Temperature: p.temperature,
		Tools:       []llms.Tool{decideTool},
	})
	if err != nil {
		return nil, err
	}

	var proposals []Proposal
	for _, tc := range resp.ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != "decide" {
			continue
		}
		var args decideArgs
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args); err != nil {
			return nil, fmt.Errorf("failed to parse decide arguments: %w", err)
		}
		proposals = append(proposals, args.proposal(input))
	}

	if len(proposals) == 0 && strings.TrimSpace(resp.Content) != "" {
		proposals = append(proposals, Proposal{
			Source:     "direct",
			Confidence: 1,
			Priority:   5,
			Decision: Decision{
				Actions:  []Action{ActionRespond},
				Payloads: map[Action]string{ActionRespond: resp.Content},
			},
		})
	}
	return proposals, nil
}

func (a decideArgs) proposal(input string) Proposal {
	d := Decision{
		Payloads:     make(map[Action]string),
		StateUpdates: memory.Patch{Goals: a.Goals, Memories: a.Memories},
	}
	for _, act := range a.Actions {
		if !act.valid() {
			continue
		}
		d.Actions = append(d.Actions, act)
		switch act {
		case ActionRespond, ActionTerminate:
			d.Payloads[act] = a.Reply
		case ActionDecompose:
			d.Payloads[act] = a.Goal
			if strings.TrimSpace(a.Goal) == "" {
				d.Payloads[act] = input
			}
		case ActionCallTool:
			call, _ := json.Marshal(struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments,omitempty"`
			}{a.Tool, a.ToolArguments})
			d.Payloads[act] = string(call)
		}
	}

	return Proposal{
		Source:     a.Source,
		Confidence: clampFloat(a.Confidence, 0, 1),
		Priority:   clampInt(a.Priority, 0, 10),
		Reasoning:  a.Reasoning,
		Decision:   d,
	}
}

// Decompose builds a goal node whose children are the planned tasks. Steps
// named by the model are stored in the task metadata so the executor resumes
// them instead of deriving its own.
func (p *Planner) Decompose(ctx context.Context, description string) (*goal.TaskNode, error) {
	resp, err := p.model.Call(ctx, ModelRequest{
		Messages: []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, decomposeInstructions),
			llms.TextParts(llms.ChatMessageTypeHuman, description),
		},
		Temperature: p.temperature,
		Tools:       []llms.Tool{proposePlanTool},
	})
	if err != nil {
		return nil, err
	}

	now := p.now()
	root := &goal.TaskNode{
		ID:          uuid.NewString(),
		Type:        goal.NodeGoal,
		Description: description,
		TaskStatus:  goal.StatusPending,
		LastUpdated: now,
	}

	for _, tc := range resp.ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != "propose_plan" {
			continue
		}
		var plan struct {
			Tasks []struct {
				Description string   `json:"description"`
				Steps       []string `json:"steps"`
			} `json:"tasks"`
		}
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &plan); err != nil {
			return nil, fmt.Errorf("failed to parse propose_plan arguments: %w", err)
		}
		for _, t := range plan.Tasks {
			if strings.TrimSpace(t.Description) == "" {
				continue
			}
			root.Children = append(root.Children, newTask(t.Description, t.Steps, now))
		}
		break
	}

	if len(root.Children) == 0 {
		root.Children = append(root.Children, newTask(description, nil, now))
	}
	p.logger.LogPlan("", root.ID, root)
	return root, nil
}

func newTask(description string, steps []string, now time.Time) *goal.TaskNode {
	node := &goal.TaskNode{
		ID:          uuid.NewString(),
		Type:        goal.NodeTask,
		Description: strings.TrimSpace(description),
		TaskStatus:  goal.StatusPending,
		LastUpdated: now,
	}

	var planned []goal.Step
	for _, s := range steps {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		n := len(planned) + 1
		planned = append(planned, goal.Step{
			ID:          fmt.Sprintf("%s-step-%d", node.ID, n),
			Description: s,
			Order:       n,
		})
	}
	if len(planned) > 0 {
		node.Metadata = map[string]any{goal.MetadataSteps: planned}
	}
	return node
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
