package tactical

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rahul/cortex/internal/goal"
)

var (
	// ErrStepNotFound is returned when a step ID is not part of the sequence.
	ErrStepNotFound = errors.New("step not found")
)

var (
	listMarker  = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+`)
	connectives = regexp.MustCompile(`(?i)\s*(?:;|,?\s+and then\s+|,?\s+then\s+|,\s+and\s+|\s+after that\s+)\s*`)
)

// StepSequenceManager derives a step sequence from a task and does the
// progress accounting over it. It holds no state.
type StepSequenceManager struct{}

func NewStepSequenceManager() *StepSequenceManager {
	return &StepSequenceManager{}
}

// CreateSteps splits the description into sequential clauses. A description
// that is a single clause gets a prepare / carry out / verify sequence.
func (m *StepSequenceManager) CreateSteps(task goal.TaskNode) []goal.Step {
	desc := strings.TrimSpace(task.Description)
	if desc == "" {
		return []goal.Step{}
	}

	clauses := splitClauses(desc)
	if len(clauses) < 2 {
		clauses = []string{
			"Gather what is needed to " + lowerFirst(desc),
			desc,
			"Verify the outcome of: " + desc,
		}
	}

	steps := make([]goal.Step, len(clauses))
	for i, c := range clauses {
		steps[i] = goal.Step{
			ID:          fmt.Sprintf("%s-step-%d", task.ID, i+1),
			Description: c,
			Order:       i + 1,
		}
	}
	return steps
}

func splitClauses(desc string) []string {
	var clauses []string
	for _, line := range strings.Split(desc, "\n") {
		line = listMarker.ReplaceAllString(line, "")
		for _, part := range connectives.Split(line, -1) {
			part = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(part), "."))
			if part != "" {
				clauses = append(clauses, part)
			}
		}
	}
	return clauses
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// CurrentStep returns the first incomplete step, or nil.
func (m *StepSequenceManager) CurrentStep(steps []goal.Step) *goal.Step {
	for i := range steps {
		if !steps[i].Completed {
			s := steps[i]
			return &s
		}
	}
	return nil
}

// CompleteStep marks the step complete in place. A step that is already
// complete keeps its first result.
func (m *StepSequenceManager) CompleteStep(steps []goal.Step, id string, result string) error {
	for i := range steps {
		if steps[i].ID != id {
			continue
		}
		if !steps[i].Completed {
			steps[i].Completed = true
			steps[i].Result = result
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrStepNotFound, id)
}

// CalculateProgress is floor(100 * completed / total), 0 for no steps.
func (m *StepSequenceManager) CalculateProgress(steps []goal.Step) int {
	if len(steps) == 0 {
		return 0
	}
	completed := 0
	for _, s := range steps {
		if s.Completed {
			completed++
		}
	}
	return completed * 100 / len(steps)
}

// AreAllStepsCompleted is false for an empty sequence: there is nothing to
// have completed yet.
func (m *StepSequenceManager) AreAllStepsCompleted(steps []goal.Step) bool {
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if !s.Completed {
			return false
		}
	}
	return true
}
