package governance

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a tool call to be evaluated.
type Request struct {
	Tool      string
	Arguments string
	ChatID    string
	Role      string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

func (r Result) Allowed() bool {
	return r.Effect == EffectAllow
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies listed tools, tools outside a role's allow list,
// and arguments matching any denied pattern.
type DefaultPolicyEngine struct {
	mu          sync.RWMutex
	deniedTools map[string]bool
	deniedRegex []*regexp.Regexp
	roleTools   map[string]map[string]bool
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		deniedTools: make(map[string]bool),
		roleTools:   make(map[string]map[string]bool),
	}
}

// NewPolicyEngine builds an engine from configured tool names and patterns.
func NewPolicyEngine(deniedTools, deniedPatterns []string) (*DefaultPolicyEngine, error) {
	e := NewDefaultPolicyEngine()
	for _, t := range deniedTools {
		e.DenyTool(t)
	}
	for _, p := range deniedPatterns {
		if err := e.DenyArguments(p); err != nil {
			return nil, fmt.Errorf("invalid denied pattern %q: %w", p, err)
		}
	}
	return e, nil
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deniedTools[name] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deniedRegex = append(e.deniedRegex, re)
	return nil
}

// RestrictRole limits a role to the given tools. Roles without a restriction
// may use every tool that is not denied.
func (e *DefaultPolicyEngine) RestrictRole(role string, tools ...string) {
	allowed := make(map[string]bool, len(tools))
	for _, t := range tools {
		allowed[t] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roleTools[role] = allowed
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.deniedTools[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is restricted by system policy", req.Tool),
		}, nil
	}

	if allowed, ok := e.roleTools[req.Role]; ok && !allowed[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is not available to role '%s'", req.Tool, req.Role),
		}, nil
	}

	for _, re := range e.deniedRegex {
		if re.MatchString(req.Arguments) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Arguments match restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
