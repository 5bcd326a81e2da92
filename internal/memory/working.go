package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rahul/cortex/internal/goal"
	"github.com/rahul/cortex/internal/observability"
	"go.uber.org/zap"
)

// MaxSeedMemories caps how many seed lines Initialize keeps.
const MaxSeedMemories = 10

// WorkingMemory is the state shared by every phase of one run.
type WorkingMemory struct {
	Goals    []goal.Goal `json:"goals"`
	Memories []string    `json:"memories"`
}

// Patch replaces whole fields of WorkingMemory. A nil field is left alone;
// a non-nil empty slice clears the field.
type Patch struct {
	Goals    *[]goal.Goal `json:"goals,omitempty"`
	Memories *[]string    `json:"memories,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p.Goals == nil && p.Memories == nil
}

// Manager holds the working memory of one run. Updates replace, they never
// merge, so the state after an update is fully determined by the patch.
type Manager struct {
	mu     sync.Mutex
	state  *WorkingMemory
	logger *observability.Logger
}

// Initialize creates a manager with no goals and, when seed is non-empty,
// its first MaxSeedMemories non-blank lines as memories.
func Initialize(seed string, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	memories := []string{}
	for _, line := range strings.Split(seed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		memories = append(memories, line)
		if len(memories) == MaxSeedMemories {
			break
		}
	}

	return &Manager{
		state: &WorkingMemory{
			Goals:    []goal.Goal{},
			Memories: memories,
		},
		logger: logger,
	}
}

// State returns the live shared object. Mutate it only through Update.
func (m *Manager) State() *WorkingMemory {
	return m.state
}

func (m *Manager) Update(p Patch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Goals != nil {
		before := len(m.state.Goals)
		goals := make([]goal.Goal, len(*p.Goals))
		for i, g := range *p.Goals {
			goals[i] = g.Clone()
		}
		m.state.Goals = goals
		m.logger.Debug("working memory goals replaced",
			zap.Int("count", len(goals)),
			zap.Int("delta", len(goals)-before),
		)
	}

	if p.Memories != nil {
		before := len(m.state.Memories)
		memories := make([]string, len(*p.Memories))
		copy(memories, *p.Memories)
		m.state.Memories = memories
		m.logger.Debug("working memory replaced",
			zap.Int("count", len(memories)),
			zap.Int("delta", len(memories)-before),
		)
	}
}

// Render formats the state as a prompt context block.
func (m *Manager) Render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("## Working Memory\n\n### Active Goals\n")
	if len(m.state.Goals) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, g := range m.state.Goals {
		writeGoal(&sb, g, 0)
	}

	sb.WriteString("\n### Memories\n")
	if len(m.state.Memories) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, mem := range m.state.Memories {
		sb.WriteString("- " + mem + "\n")
	}
	return sb.String()
}

func writeGoal(sb *strings.Builder, g goal.Goal, depth int) {
	fmt.Fprintf(sb, "%s- [%s] %s", strings.Repeat("  ", depth), g.Status, g.Description)
	if g.ID != "" {
		fmt.Fprintf(sb, " (%s)", g.ID)
	}
	sb.WriteString("\n")
	for _, s := range g.SubGoals {
		writeGoal(sb, s, depth+1)
	}
}
