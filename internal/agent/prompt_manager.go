package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/maypok86/otter"
)

const (
	RolePlanner   = "planner"
	RoleWorker    = "worker"
	RoleResponder = "responder"
)

var defaultInstructions = map[string]string{
	RolePlanner: "You are the planner of a personal automation agent. Decide how to handle the user's message by calling the decide tool. " +
		"Respond directly to small talk and simple questions. Decompose anything that needs several actions or tools into a goal.",
	RoleWorker: "You are a worker of a personal automation agent. Complete exactly the current step you are given, using tools when needed. " +
		"When the step is done, answer with a short factual result and no tool calls.",
	RoleResponder: "You write the final reply to the user. Summarize what was done and the results in plain, friendly language. Mention failures honestly.",
}

// persona files are shared by every role, in this order
var sharedOrder = map[string]int{
	"identity.md":     1,
	"soul.md":         2,
	"capabilities.md": 3,
	"user.md":         4,
}

// PromptManager assembles role instructions from markdown files. Every role
// gets the shared persona files followed by its own <role>.md; roles without
// a file fall back to built-in instructions.
type PromptManager struct {
	Directory string
	cache     *otter.Cache[string, string]
}

func NewPromptManager(dir string, ttl time.Duration) (*PromptManager, error) {
	builder := otter.MustBuilder[string, string](64)
	var (
		cache otter.Cache[string, string]
		err   error
	)
	if ttl > 0 {
		cache, err = builder.WithTTL(ttl).Build()
	} else {
		cache, err = builder.Build()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt cache: %w", err)
	}
	return &PromptManager{Directory: dir, cache: &cache}, nil
}

// Role returns the assembled instructions for the named role.
func (pm *PromptManager) Role(name string) (string, error) {
	if prompt, ok := pm.cache.Get(name); ok {
		return prompt, nil
	}

	prompt, err := pm.load(name)
	if err != nil {
		return "", err
	}
	pm.cache.Set(name, prompt)
	return prompt, nil
}

// Invalidate drops cached prompts so edited files are picked up.
func (pm *PromptManager) Invalidate() {
	pm.cache.Clear()
}

func (pm *PromptManager) load(role string) (string, error) {
	var contents []string

	entries, err := os.ReadDir(pm.Directory)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	var shared []string
	for _, e := range entries {
		if _, ok := sharedOrder[e.Name()]; ok && !e.IsDir() {
			shared = append(shared, e.Name())
		}
	}
	sort.Slice(shared, func(i, j int) bool {
		return sharedOrder[shared[i]] < sharedOrder[shared[j]]
	})

	for _, name := range shared {
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file %s: %w", name, err)
		}
		contents = append(contents, strings.TrimSpace(string(data)))
	}

	data, err := os.ReadFile(filepath.Join(pm.Directory, role+".md"))
	switch {
	case err == nil:
		contents = append(contents, strings.TrimSpace(string(data)))
	case errors.Is(err, fs.ErrNotExist):
		def, ok := defaultInstructions[role]
		if !ok {
			return "", fmt.Errorf("no instructions for role %q", role)
		}
		contents = append(contents, def)
	default:
		return "", fmt.Errorf("failed to read %s prompt: %w", role, err)
	}

	return strings.Join(contents, "\n\n---\n\n"), nil
}
