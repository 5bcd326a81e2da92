package tools

import (
	"context"
	"sort"

	"github.com/rahul/cortex/internal/memory"
	"github.com/tmc/langchaingo/llms"
)

// Context identifies the run a tool call belongs to.
type Context struct {
	ConversationID string
	ChatID         string
	TaskID         string
	Role           string
	// Allowed limits the tools offered and executed; empty means all.
	Allowed []string
	// Memory is the working memory of the run, if it has one.
	Memory *memory.Manager
}

func (c Context) allows(name string) bool {
	if len(c.Allowed) == 0 {
		return true
	}
	for _, a := range c.Allowed {
		if a == name {
			return true
		}
	}
	return false
}

// Tool defines the interface for all agent capabilities.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's inputs
	Execute(ctx context.Context, tc Context, input string) (string, error)
}

// Result is the outcome of one tool call.
type Result struct {
	ToolCallID string
	Name       string
	Content    string
}

// Registry manages the set of available tools.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns function definitions for the tools allowed in tc,
// sorted by name.
func (r *Registry) Definitions(tc Context) []llms.Tool {
	var defs []llms.Tool
	for _, name := range r.Names() {
		if !tc.allows(name) {
			continue
		}
		t := r.tools[name]
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
